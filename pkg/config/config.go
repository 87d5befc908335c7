// Package config provides configuration structures and loading for all pipeline components.
package config

import (
	"os"
	"strconv"
	"time"
)

// NodeConfig holds configuration for the field-station node client and
// its sensor workers.
// Used by: Node
type NodeConfig struct {
	// Host is the collector's address to dial.
	Host string `yaml:"host" json:"host"`

	// Port is the collector's TCP port.
	Port int `yaml:"port" json:"port"`

	// NodeID is the declared identifier sent at handshake: NODE_PREFIX
	// or NODE_ID, prefixed with "NODE_".
	NodeID string `yaml:"node_id" json:"node_id"`

	StationID int     `yaml:"station_id" json:"station_id"`
	Lat       float64 `yaml:"lat" json:"lat"`
	Lon       float64 `yaml:"lon" json:"lon"`

	// BucketSize is millimetres of rain per tip of the gauge.
	BucketSize float64 `yaml:"bucket_size" json:"bucket_size"`

	// GPIO channel assignments, passed through to the sensor drivers
	// opaquely.
	RainfallChannel  string `yaml:"rainfall_channel" json:"rainfall_channel"`
	FloodChannel     string `yaml:"flood_channel" json:"flood_channel"`
	TempHumidChannel string `yaml:"temp_humid_channel" json:"temp_humid_channel"`

	DialTimeout time.Duration `yaml:"dial_timeout" json:"dial_timeout"`
}

// ResolveHost applies the CLI-argument override rule: a node invoked
// with any argument always targets 127.0.0.1 regardless of
// RECEIVER_HOST.
func (c NodeConfig) ResolveHost(invokedWithArgs bool) string {
	if invokedWithArgs {
		return "127.0.0.1"
	}
	return c.Host
}

// DefaultNodeConfig returns a default Node configuration.
func DefaultNodeConfig() NodeConfig {
	prefix := getEnv("NODE_PREFIX", getEnv("NODE_ID", "station"))
	return NodeConfig{
		Host:             getEnv("RECEIVER_HOST", "127.0.0.1"),
		Port:             getEnvInt("RECEIVER_PORT", 4040),
		NodeID:           "NODE_" + prefix,
		StationID:        getEnvInt("STATION_ID", 0),
		Lat:              getEnvFloat("GPS_LAT", 0),
		Lon:              getEnvFloat("GPS_LON", 0),
		BucketSize:       getEnvFloat("BUCKET_SIZE", 0.2794),
		RainfallChannel:  getEnv("RAINFALL_SENSOR", ""),
		FloodChannel:     getEnv("FLOOD_SENSOR", ""),
		TempHumidChannel: getEnv("TEMP_&_HUMID_SENSOR", ""),
		DialTimeout:      getEnvDuration("NODE_DIAL_TIMEOUT", 10*time.Second),
	}
}

// UploadConfig holds credentials and routing for the external
// data-repository upload service.
// Used by: Collector
type UploadConfig struct {
	UserID     string `yaml:"userid" json:"userid"`
	Password   string `yaml:"password" json:"password"`
	BaseURL    string `yaml:"base_url" json:"base_url"`
	CKANURL    string `yaml:"ckan_url" json:"ckan_url"`
	CKANOrg    string `yaml:"ckan_org" json:"ckan_org"`
	CampaignID string `yaml:"campaign_id" json:"campaign_id"`

	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`
	MaxRetries     int           `yaml:"max_retries" json:"max_retries"`
}

// DefaultUploadConfig returns a default Upload configuration.
func DefaultUploadConfig() UploadConfig {
	return UploadConfig{
		UserID:         getEnv("userid", ""),
		Password:       getEnv("password", ""),
		BaseURL:        getEnv("BASE_URL", ""),
		CKANURL:        getEnv("CKAN_URL", ""),
		CKANOrg:        getEnv("CKAN_ORG", ""),
		CampaignID:     getEnv("CAMPAIGN_ID", ""),
		RequestTimeout: getEnvDuration("UPLOAD_TIMEOUT", 30*time.Second),
		MaxRetries:     getEnvInt("UPLOAD_MAX_RETRIES", 3),
	}
}

// TaskRef addresses a specific MINT subtask, since a single MINT_URL
// cannot otherwise pin a problem statement / task / subtask triple.
type TaskRef struct {
	ProblemStatementID string `yaml:"problem_statement_id" json:"problem_statement_id"`
	TaskID             string `yaml:"task_id" json:"task_id"`
	SubtaskID          string `yaml:"subtask_id" json:"subtask_id"`
}

// FloodJobConfig holds configuration for USGS streamflow lookups and
// MINT task submission.
// Used by: Collector
type FloodJobConfig struct {
	MintURL            string  `yaml:"mint_url" json:"mint_url"`
	USGSSiteID         string  `yaml:"usgs_site_id" json:"usgs_site_id"`
	StreamflowCFSToCMS float64 `yaml:"streamflow_conversion" json:"streamflow_conversion"`
	ThresholdCMS       float64 `yaml:"threshold_cms" json:"threshold_cms"`
	ModelID            string  `yaml:"model_id" json:"model_id"`
	Task               TaskRef `yaml:"task" json:"task"`

	IdentityURL  string `yaml:"identity_url" json:"identity_url"`
	ClientID     string `yaml:"client_id" json:"client_id"`
	ClientSecret string `yaml:"client_secret" json:"client_secret"`

	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`
}

// DefaultFloodJobConfig returns a default FloodJob configuration.
func DefaultFloodJobConfig() FloodJobConfig {
	return FloodJobConfig{
		MintURL:            getEnv("MINT_URL", "https://ensemble-manager.mint.tacc.utexas.edu/v1"),
		USGSSiteID:         getEnv("USGS_SITE_ID", "15304000"),
		StreamflowCFSToCMS: 35.315,
		ThresholdCMS:       getEnvFloat("FLOOD_STREAMFLOW_THRESHOLD_CMS", 100.0),
		ModelID:            getEnv("MINT_MODEL_ID", ""),
		Task: TaskRef{
			ProblemStatementID: getEnv("MINT_PROBLEM_STATEMENT_ID", ""),
			TaskID:             getEnv("MINT_TASK_ID", ""),
			SubtaskID:          getEnv("MINT_SUBTASK_ID", ""),
		},
		IdentityURL:    getEnv("MINT_IDENTITY_URL", ""),
		ClientID:       getEnv("MINT_CLIENT_ID", ""),
		ClientSecret:   getEnv("MINT_CLIENT_SECRET", ""),
		RequestTimeout: getEnvDuration("FLOODJOB_TIMEOUT", 20*time.Second),
	}
}

// InfluxDBConfig holds connection settings for the best-effort InfluxDB
// mirror the collector writes alongside its mandatory CSV file.
type InfluxDBConfig struct {
	URL    string `yaml:"influx_url" json:"influx_url"`
	Token  string `yaml:"influx_token" json:"influx_token"`
	Org    string `yaml:"influx_org" json:"influx_org"`
	Bucket string `yaml:"influx_bucket" json:"influx_bucket"`
}

// DefaultInfluxDBConfig returns a default InfluxDB configuration.
func DefaultInfluxDBConfig() InfluxDBConfig {
	return InfluxDBConfig{
		URL:    getEnv("INFLUXDB_URL", "http://localhost:8086"),
		Token:  os.Getenv("INFLUXDB_TOKEN"),
		Org:    getEnv("INFLUXDB_ORG", "fieldwatch"),
		Bucket: getEnv("INFLUXDB_BUCKET", "station_observations"),
	}
}

// CollectorConfig holds configuration for the collector server, CSV
// writer, rotation/upload, and flood job.
type CollectorConfig struct {
	// TCPHost is the collector's listen address.
	TCPHost string `yaml:"tcp_host" json:"tcp_host"`

	// TCPPort is the collector's listen port.
	TCPPort int `yaml:"tcp_port" json:"tcp_port"`

	// DataDir is where active and rotated hourly CSV files, and the
	// sensor template file, are written.
	DataDir string `yaml:"data_dir" json:"data_dir"`

	QueueBufferSize int `yaml:"queue_buffer_size" json:"queue_buffer_size"`

	Upload   UploadConfig   `yaml:"upload" json:"upload"`
	FloodJob FloodJobConfig `yaml:"flood_job" json:"flood_job"`
	InfluxDB InfluxDBConfig `yaml:"influxdb" json:"influxdb"`
}

// DefaultCollectorConfig returns a default Collector configuration.
func DefaultCollectorConfig() CollectorConfig {
	return CollectorConfig{
		TCPHost:         getEnv("COLLECTOR_HOST", "0.0.0.0"),
		TCPPort:         getEnvInt("RECEIVER_PORT", 4040),
		DataDir:         getEnv("COLLECTOR_DATA_DIR", "./data"),
		QueueBufferSize: getEnvInt("COLLECTOR_QUEUE_BUFFER", 256),
		Upload:          DefaultUploadConfig(),
		FloodJob:        DefaultFloodJobConfig(),
		InfluxDB:        DefaultInfluxDBConfig(),
	}
}

// APIConfig holds configuration for the read-only query gateway.
type APIConfig struct {
	// Host is the API server host
	Host string `yaml:"host" json:"host"`

	// Port is the API server port
	Port int `yaml:"port" json:"port"`

	// ReadTimeout is the HTTP read timeout
	ReadTimeout time.Duration `yaml:"read_timeout" json:"read_timeout"`

	// WriteTimeout is the HTTP write timeout
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`

	// DefaultLimit is the default pagination limit
	DefaultLimit int `yaml:"default_limit" json:"default_limit"`

	// MaxLimit is the maximum pagination limit
	MaxLimit int `yaml:"max_limit" json:"max_limit"`

	InfluxDB InfluxDBConfig `yaml:"influxdb" json:"influxdb"`
}

// DefaultAPIConfig returns a default API configuration.
func DefaultAPIConfig() APIConfig {
	return APIConfig{
		Host:         getEnv("API_HOST", "0.0.0.0"),
		Port:         getEnvInt("API_PORT", 8080),
		ReadTimeout:  getEnvDuration("API_READ_TIMEOUT", 10*time.Second),
		WriteTimeout: getEnvDuration("API_WRITE_TIMEOUT", 10*time.Second),
		DefaultLimit: getEnvInt("DEFAULT_LIMIT", 100),
		MaxLimit:     getEnvInt("MAX_LIMIT", 1000),
		InfluxDB:     DefaultInfluxDBConfig(),
	}
}

// Helper functions for environment variable parsing.

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
