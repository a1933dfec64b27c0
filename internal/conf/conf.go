// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package conf

import (
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Configuration for structured logging.
type LoggingConfig struct {
	// The log level to use (debug, info, warn, error).
	LevelStr string `yaml:"level"`
	// The log format to use (json, text).
	Format string `yaml:"format"`
}

type DBReconnectConfig struct {
	// The interval between liveness pings to the database.
	LivenessPingIntervalSeconds int `yaml:"livenessPingIntervalSeconds"`
	// The interval between reconnection attempts on connection loss.
	RetryIntervalSeconds int `yaml:"retryIntervalSeconds"`
	// The maximum number of reconnection attempts on connection loss before panic.
	MaxRetries int `yaml:"maxRetries"`
}

// Database configuration.
type DBConfig struct {
	Host      string            `yaml:"host"`
	Port      string            `yaml:"port"`
	Database  string            `yaml:"database"`
	User      string            `yaml:"user"`
	Password  string            `yaml:"password"`
	Reconnect DBReconnectConfig `yaml:"reconnect"`
}

// Configuration for the monitoring module.
type MonitoringConfig struct {
	// The labels to add to all metrics.
	Labels map[string]string `yaml:"labels"`

	// The port to expose the metrics on.
	Port int `yaml:"port"`
}

type MQTTReconnectConfig struct {
	// The interval between reconnection attempts on connection loss.
	RetryIntervalSeconds int `yaml:"retryIntervalSeconds"`

	// The maximum number of reconnection attempts on connection loss before panic.
	MaxRetries int `yaml:"maxRetries"`
}

// Configuration for the mqtt client.
type MQTTConfig struct {
	// The URL of the MQTT broker to use for mqtt.
	URL string `yaml:"url"`
	// Credentials for the MQTT broker.
	Username  string              `yaml:"username"`
	Password  string              `yaml:"password"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// Configuration for the api.
type APIConfig struct {
	// The port to expose the API on.
	Port int `yaml:"port"`

	// If request bodies should be logged out.
	// This feature is intended for debugging purposes only.
	LogRequestBodies bool `yaml:"logRequestBodies"`
}

// Configuration for one shift window within a day.
type ShiftWindowConfig struct {
	// The shift number (1 or 2).
	Number int `yaml:"number"`
	// Wall-clock start of the shift, as HH:MM in the calendar timezone.
	Start string `yaml:"start"`
	// Wall-clock end of the shift, as HH:MM. An end at or before the start
	// means the shift wraps past midnight into the next calendar day.
	End string `yaml:"end"`
}

// Configuration for the shift calendar.
type CalendarConfig struct {
	// The IANA timezone in which shifts are defined, e.g. "America/Chicago".
	Timezone string `yaml:"timezone"`
	// The shift windows covering a working day.
	Shifts []ShiftWindowConfig `yaml:"shifts"`
}

// Configuration for the machine fleet.
type MachinesConfig struct {
	// Path to the yaml file containing the machine fleet to seed.
	// The fleet is always seeded from this file, never hard-coded.
	SeedFile string `yaml:"seedFile"`
}

type SchedulerStepConfig struct {
	// The name of the step implementation.
	Name string `yaml:"name"`
	// The alias of this step, if any.
	//
	// The alias can be used to distinguish between different configurations
	// of the same step, or use a more specific name.
	Alias string `yaml:"alias,omitempty"`
	// Custom options for the step, as a raw yaml map.
	Options RawOpts `yaml:"options,omitempty"`
	// The validations to use for this step.
	DisabledValidations SchedulerStepDisabledValidationsConfig `yaml:"disabledValidations,omitempty"`
}

// Config for which validations to disable for a scheduler step.
type SchedulerStepDisabledValidationsConfig struct {
	// Whether to validate that no subjects are removed or added from the
	// scheduler step. This should only be disabled for steps that filter
	// machines out. Thus, if no value is provided, the default is false.
	SameSubjectNumberInOut bool `yaml:"sameSubjectNumberInOut,omitempty"`
	// Whether to validate that, after running the step, there are remaining
	// subjects. This should only be disabled for steps that are expected to
	// remove all subjects.
	SomeSubjectsRemain bool `yaml:"someSubjectsRemain,omitempty"`
}

// Configuration for one machine-selection pipeline.
type SchedulerPipelineConfig struct {
	// The name of the pipeline. One pipeline named "default" is required.
	Name string `yaml:"name"`
	// The steps to run, in order. Filters are applied before weighers
	// regardless of their relative order here; within each kind the
	// configured order is kept.
	Steps []SchedulerStepConfig `yaml:"steps"`
}

// Configuration for the job scheduler.
type SchedulerConfig struct {
	// The machine-selection pipelines by name.
	Pipelines []SchedulerPipelineConfig `yaml:"pipelines"`

	// Days before the first chunk of a freshly created job may start.
	PlanningHorizonDays int `yaml:"planningHorizonDays"`
	// How many days the chunk scan looks ahead before giving up.
	ScanDays int `yaml:"scanDays"`
	// Wall-clock budget for one scheduling batch, in seconds.
	BatchTimeoutSeconds int `yaml:"batchTimeoutSeconds"`
	// Jobs per schedule-all batch when the caller does not pass a limit.
	DefaultBatchJobs int `yaml:"defaultBatchJobs"`
	// Hard cap on jobs per schedule-all batch.
	MaxBatchJobs int `yaml:"maxBatchJobs"`
}

// Configuration for the rescheduling engine.
type RescheduleConfig struct {
	// Whether posting an unavailability through the API triggers a
	// reschedule run immediately.
	AutoTrigger bool `yaml:"autoTrigger"`
}

// Configuration for the foreman service.
type Config struct {
	LoggingConfig    `yaml:"logging"`
	DBConfig         `yaml:"db"`
	MonitoringConfig `yaml:"monitoring"`
	MQTTConfig       `yaml:"mqtt"`
	APIConfig        `yaml:"api"`
	CalendarConfig   `yaml:"calendar"`
	MachinesConfig   `yaml:"machines"`
	SchedulerConfig  `yaml:"scheduler"`
	RescheduleConfig `yaml:"rescheduling"`
}

// Default file paths, overridable through the environment for development.
const (
	defaultConfigPath  = "/etc/config/conf.yaml"
	defaultSecretsPath = "/etc/secrets/secrets.yaml"
)

// Create a new configuration from the default config yaml files.
//
// This will read two files:
//   - /etc/config/conf.yaml (or $FOREMAN_CONFIG)
//   - /etc/secrets/secrets.yaml (or $FOREMAN_SECRETS)
//
// The values read from the secrets file override the values in the config
// file. The secrets file may be absent, in which case only the config file
// is used.
func GetConfigOrDie() Config {
	configPath := os.Getenv("FOREMAN_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}
	secretsPath := os.Getenv("FOREMAN_SECRETS")
	if secretsPath == "" {
		secretsPath = defaultSecretsPath
	}

	// Note: We need to read the config as a raw map first, to avoid golang
	// unmarshalling default values for the fields.
	base, err := readRawConfig(configPath)
	if err != nil {
		panic(err)
	}
	override, err := readRawConfig(secretsPath)
	if err != nil {
		if !os.IsNotExist(err) {
			panic(err)
		}
		override = map[string]any{}
	}
	return newConfigFromMaps(base, override)
}

func newConfigFromMaps(base, override map[string]any) Config {
	// Merge the base config with the override config.
	merged := mergeMaps(base, override)
	// Marshal again, and then unmarshal into the config struct.
	mergedBytes, err := yaml.Marshal(merged)
	if err != nil {
		panic(err)
	}
	return NewConfigFromBytes(mergedBytes)
}

// Create a new configuration from the given yaml bytes.
func NewConfigFromBytes(bytes []byte) Config {
	var c Config
	if err := yaml.Unmarshal(bytes, &c); err != nil {
		panic(err)
	}
	return c
}

// Read the yaml as a map from the given file path.
func readRawConfig(filepath string) (map[string]any, error) {
	file, err := os.Open(filepath)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	bytes, err := io.ReadAll(file)
	if err != nil {
		return nil, err
	}
	var conf map[string]any
	if err := yaml.Unmarshal(bytes, &conf); err != nil {
		return nil, err
	}
	return conf, nil
}

// mergeMaps recursively overrides dst with src (in-place)
func mergeMaps(dst, src map[string]any) map[string]any {
	result := dst
	for k, v := range src {
		if v == nil {
			// If src value is nil, skip override
			continue
		}
		if dstVal, ok := dst[k]; ok {
			// If both are maps, merge recursively
			dstMap, dstIsMap := dstVal.(map[string]any)
			srcMap, srcIsMap := v.(map[string]any)
			if dstIsMap && srcIsMap {
				result[k] = mergeMaps(dstMap, srcMap)
				continue
			}
		}
		// Otherwise, override
		result[k] = v
	}
	return result
}
