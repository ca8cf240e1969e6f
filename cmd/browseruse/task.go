package main

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// TaskFile describes one run. Values set here override the agent section
// of the configuration file.
type TaskFile struct {
	Task               string                       `yaml:"task"`
	CustomInstructions string                       `yaml:"custom_instructions"`
	StartURL           string                       `yaml:"start_url"`
	MaxSteps           int                          `yaml:"max_steps"`
	SensitiveData      map[string]map[string]string `yaml:"sensitive_data"`
	AvailableFilePaths []string                     `yaml:"available_file_paths"`
}

func loadTaskFile(path string) (*TaskFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read task file: %w", err)
	}

	var tf TaskFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("failed to parse task file: %w", err)
	}
	if err := tf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid task file %s: %w", path, err)
	}
	return &tf, nil
}

// Validate checks the task file.
func (tf *TaskFile) Validate() error {
	if tf.Task == "" {
		return errors.New("task is required")
	}
	if tf.MaxSteps < 0 {
		return errors.New("max_steps cannot be negative")
	}
	for domain, values := range tf.SensitiveData {
		if len(values) == 0 {
			return fmt.Errorf("sensitive_data[%q] has no values", domain)
		}
	}
	return nil
}
