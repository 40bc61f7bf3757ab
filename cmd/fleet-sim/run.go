package main

import (
	"time"
)

func run(config *RunConfig) error {
	profile, err := LoadProfile(config.ProfilePath)
	if err != nil {
		return err
	}
	config.Profile = profile

	for i := int64(0); i < config.Count; i++ {
		client := NewClient(config, i)
		go client.Run()

		time.Sleep(config.StartTime / time.Duration(config.Count))
	}

	select {}
}
