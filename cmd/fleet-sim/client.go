package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
)

const urlEnroll = "/api/v1/devices/enroll"
const urlCheckin = "/api/v1/devices/%s/checkin"
const urlManifest = "/api/v1/manifest?device_id=%s&package=%s&version_code=%d"

const statusCompleted = "completed"

// Client is one simulated device: it enrolls, checks in on a timer, polls
// the manifest endpoint, and acknowledges pushed commands.
type Client struct {
	Index     int64
	DeviceID  string
	Model     string
	OSVersion string
	Network   string
	Config    *RunConfig

	httpClient *http.Client
	mqttClient mqtt.Client

	mu       sync.Mutex
	versions map[string]int64
	battery  int
	reports  []deviceReport
}

type deviceReport struct {
	ExecutionID string `json:"execution_id"`
	Status      string `json:"status"`
	Detail      string `json:"detail,omitempty"`
}

type commandEnvelope struct {
	ExecutionID string `json:"execution_id"`
	Mode        string `json:"mode"`
	Payload     string `json:"payload"`
}

func NewClient(config *RunConfig, index int64) *Client {
	spec := config.Profile.Pick(index)

	return &Client{
		Index:      index,
		DeviceID:   fmt.Sprintf("%s-%06d", config.DevicePrefix, index),
		Model:      spec.Model,
		OSVersion:  spec.OSVersion,
		Network:    config.Profile.PickNetwork(index),
		Config:     config,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		versions:   map[string]int64{},
		battery:    100 - int(index%70),
	}
}

func (c *Client) Run() {
	if err := c.Enroll(); err != nil {
		log.Errorf("[%s] %s", c.DeviceID, err)
		return
	}

	if c.Config.MQTTBroker != "" {
		if err := c.subscribeCommands(); err != nil {
			log.Errorf("[%s] %s", c.DeviceID, err)
		}
	}

	checkinTicker := time.NewTicker(c.Config.CheckinInterval)
	manifestTicker := time.NewTicker(c.Config.ManifestInterval)
	defer checkinTicker.Stop()
	defer manifestTicker.Stop()

	if err := c.Checkin(); err != nil {
		log.Errorf("[%s] %s", c.DeviceID, err)
	}
	if err := c.ManifestCheck(); err != nil {
		log.Errorf("[%s] %s", c.DeviceID, err)
	}

	for {
		select {
		case <-checkinTicker.C:
			if err := c.Checkin(); err != nil {
				log.Errorf("[%s] %s", c.DeviceID, err)
			}
		case <-manifestTicker.C:
			if err := c.ManifestCheck(); err != nil {
				log.Errorf("[%s] %s", c.DeviceID, err)
			}
		}
	}
}

func (c *Client) Enroll() error {
	token := fmt.Sprintf("simtoken-%s", c.DeviceID)
	body := map[string]any{
		"device_id":  c.DeviceID,
		"model":      c.Model,
		"os_version": c.OSVersion,
		"push_token": token,
	}

	status, _, err := c.post(urlEnroll, body)
	if err != nil {
		return err
	}
	if status != http.StatusCreated && status != http.StatusOK {
		return fmt.Errorf("enroll: status %d", status)
	}
	log.Debugf("[%s] %-40s %d", c.DeviceID, "enroll", status)
	return nil
}

func (c *Client) Checkin() error {
	c.mu.Lock()
	versions := make(map[string]int64, len(c.versions))
	for k, v := range c.versions {
		versions[k] = v
	}
	reports := c.reports
	c.reports = nil
	battery := c.battery
	c.mu.Unlock()

	body := map[string]any{
		"installed_versions": versions,
		"battery_percent":    battery,
		"network_type":       c.Network,
		"reports":            reports,
	}

	status, _, err := c.post(fmt.Sprintf(urlCheckin, c.DeviceID), body)
	if err != nil {
		// Reports go back on the queue for the next check-in.
		c.mu.Lock()
		c.reports = append(reports, c.reports...)
		c.mu.Unlock()
		return err
	}
	log.Debugf("[%s] %-40s %d (%d reports)", c.DeviceID, "checkin", status, len(reports))
	return nil
}

func (c *Client) ManifestCheck() error {
	c.mu.Lock()
	installed := c.versions[c.Config.PackageName]
	c.mu.Unlock()

	url := c.Config.ServerURL + fmt.Sprintf(urlManifest, c.DeviceID, c.Config.PackageName, installed)
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Add("X-API-Key", c.Config.APIKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	elapsed := time.Since(start).Milliseconds()

	if resp.StatusCode == http.StatusNotModified {
		log.Debugf("[%s] %-40s 304 %s (%6d ms)", c.DeviceID, "manifest", resp.Header.Get("X-Manifest-Reason"), elapsed)
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("manifest: status %d", resp.StatusCode)
	}

	var manifest struct {
		PackageName string `json:"package_name"`
		VersionCode int64  `json:"version_code"`
		VersionName string `json:"version_name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&manifest); err != nil {
		return err
	}

	log.Infof("[%s] installing %s %s (%d)", c.DeviceID, manifest.PackageName, manifest.VersionName, manifest.VersionCode)
	time.Sleep(c.Config.InstallTime)

	c.mu.Lock()
	c.versions[manifest.PackageName] = manifest.VersionCode
	c.mu.Unlock()
	return nil
}

func (c *Client) subscribeCommands() error {
	opts := mqtt.NewClientOptions().
		AddBroker(c.Config.MQTTBroker).
		SetClientID("fleet-sim-" + c.DeviceID).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("mqtt connect: timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	c.mqttClient = client

	topic := fmt.Sprintf("mdm/device/%s/commands", c.DeviceID)
	sub := client.Subscribe(topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		c.handleCommand(msg.Payload())
	})
	if !sub.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("mqtt subscribe: timeout")
	}
	return sub.Error()
}

// handleCommand simulates command execution and queues a completion report
// for the next check-in.
func (c *Client) handleCommand(raw []byte) {
	var cmd commandEnvelope
	if err := json.Unmarshal(raw, &cmd); err != nil {
		log.Errorf("[%s] bad command payload: %s", c.DeviceID, err)
		return
	}

	log.Debugf("[%s] %-40s %s", c.DeviceID, "command "+cmd.Mode, cmd.ExecutionID)

	c.mu.Lock()
	c.reports = append(c.reports,
		deviceReport{ExecutionID: cmd.ExecutionID, Status: statusCompleted, Detail: "ok"},
	)
	c.mu.Unlock()
}

func (c *Client) post(path string, body any) (int, []byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return 0, nil, err
	}

	req, err := http.NewRequest(http.MethodPost, c.Config.ServerURL+path, bytes.NewBuffer(data))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Add("Content-Type", "application/json")
	req.Header.Add("X-API-Key", c.Config.APIKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	elapsed := time.Since(start).Milliseconds()

	if resp.StatusCode >= 400 {
		return resp.StatusCode, respBody, fmt.Errorf("%s: status %d (%6d ms)", path, resp.StatusCode, elapsed)
	}
	return resp.StatusCode, respBody, nil
}
