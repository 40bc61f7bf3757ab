package core

// Services bundles the core services for injection into handlers and the
// dispatch engine.
type Services struct {
	Build     *BuildService
	Device    *DeviceService
	Execution *ExecutionService
	APIKey    *APIKeyService
	Dashboard *DashboardService
}

func NewServices(db DB, urls ArtifactURLer) *Services {
	return &Services{
		Build:     NewBuildService(db, urls),
		Device:    NewDeviceService(db),
		Execution: NewExecutionService(db),
		APIKey:    NewAPIKeyService(db),
		Dashboard: NewDashboardService(db),
	}
}
