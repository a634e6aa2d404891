package common

import "github.com/spf13/viper"

// ===============================================================================
// Mongo Related Config

// MongoConfig defines parameters for connecting to the MongoDB event store
type MongoConfig struct {
	// URI is the MongoDB connection URI
	URI string `mapstructure:"uri" json:"uri" validate:"required,uri"`
	// Database is the database holding the scan event collection
	Database string `mapstructure:"db_name" json:"db_name" validate:"required"`
	// Collection is the scan event collection name
	Collection string `mapstructure:"collection" json:"collection" validate:"required"`
	// ConnectTimeout is the max duration for connecting to MongoDB in seconds
	ConnectTimeout int `mapstructure:"connect_timeout_sec" json:"connect_timeout_sec" validate:"gte=1"`
	// OpTimeout is the max duration of a single store operation in seconds
	OpTimeout int `mapstructure:"op_timeout_sec" json:"op_timeout_sec" validate:"gte=1"`
}

// ===============================================================================
// NATS Related Config

// NATSReconnectConfig defines reconnect parameters
type NATSReconnectConfig struct {
	// MaxAttempts sets the max number of reconnect attempts (-1 is unlimited)
	MaxAttempts int `mapstructure:"max_attempts" json:"max_attempts" validate:"gte=-1"`
	// WaitInterval is the duration between reconnect attempts in seconds
	WaitInterval int `mapstructure:"wait_interval_sec" json:"wait_interval_sec" validate:"gte=1"`
}

// NATSConfig defines parameters for connecting to NATS server
type NATSConfig struct {
	// ServerURI is the NATS connection URI
	ServerURI string `mapstructure:"server_uri" json:"server_uri" validate:"required,uri"`
	// ConnectTimeout is the max duration for connecting to NATS server in seconds
	ConnectTimeout int `mapstructure:"connect_timeout_sec" json:"connect_timeout_sec" validate:"gte=1"`
	// Reconnect defines reconnect parameters
	Reconnect NATSReconnectConfig `mapstructure:"reconnect" json:"reconnect" validate:"required,dive"`
}

// BridgeConfig defines the optional JetStream scan event bridge
type BridgeConfig struct {
	// NATS are the NATS related config parameters
	NATS NATSConfig `mapstructure:"nats" json:"nats" validate:"required,dive"`
	// Subject is the JetStream subject accepted scan events are published on
	Subject string `mapstructure:"subject" json:"subject" validate:"required"`
}

// ===============================================================================
// HTTP Related Config

// HTTPServerConfig defines the HTTP server parameters
type HTTPServerConfig struct {
	// ListenOn is the interface the HTTP server will listen on
	ListenOn string `mapstructure:"listen_on" json:"listen_on" validate:"required,ip"`
	// Port is the port the HTTP server will listen on
	Port uint16 `mapstructure:"listen_port" json:"listen_port" validate:"required,gt=0,lt=65536"`
	// ReadTimeout is the maximum duration for reading the entire
	// request, including the body in seconds. A zero or negative
	// value means there will be no timeout.
	ReadTimeout int `mapstructure:"read_timeout_sec" json:"read_timeout_sec" validate:"gte=0"`
	// WriteTimeout is the maximum duration before timing out
	// writes of the response in seconds. A zero or negative value
	// means there will be no timeout.
	WriteTimeout int `mapstructure:"write_timeout_sec" json:"write_timeout_sec" validate:"gte=0"`
	// IdleTimeout is the maximum amount of time to wait for the
	// next request when keep-alives are enabled in seconds. If
	// IdleTimeout is zero, the value of ReadTimeout is used. If
	// both are zero, there is no timeout.
	IdleTimeout int `mapstructure:"idle_timeout_sec" json:"idle_timeout_sec" validate:"gte=0"`
}

// HTTPRequestLogging defines HTTP request logging parameters
type HTTPRequestLogging struct {
	// RequestIDHeader is the HTTP header containing the API request ID
	RequestIDHeader string `mapstructure:"request_id_header" json:"request_id_header"`
	// DoNotLogHeaders is the list of headers to not include in logging metadata
	DoNotLogHeaders []string `mapstructure:"do_not_log_headers" json:"do_not_log_headers"`
}

// HTTPConfig defines HTTP API / server parameters
type HTTPConfig struct {
	// Server defines HTTP server parameters
	Server HTTPServerConfig `mapstructure:"server_config" json:"server_config" validate:"required,dive"`
	// Logging defines operation logging parameters
	Logging HTTPRequestLogging `mapstructure:"logging_config" json:"logging_config" validate:"required,dive"`
}

// ===============================================================================
// Ingest Server Related Config

// IngestEndpointConfig defines ingest API endpoint config
type IngestEndpointConfig struct {
	// PathPrefix is the end-point path prefix for the REST APIs
	PathPrefix string `mapstructure:"path_prefix" json:"path_prefix" validate:"required"`
}

// WebsocketConfig defines the websocket endpoint parameters
type WebsocketConfig struct {
	// DevicePath is the endpoint path RFID scanner devices connect on
	DevicePath string `mapstructure:"device_path" json:"device_path" validate:"required"`
	// DashboardPath is the endpoint path dashboard clients connect on
	DashboardPath string `mapstructure:"dashboard_path" json:"dashboard_path" validate:"required"`
	// DeviceIdleTimeout is the idle read deadline for device connections
	// in seconds. Zero disables the idle timeout.
	DeviceIdleTimeout int `mapstructure:"device_idle_timeout_sec" json:"device_idle_timeout_sec" validate:"gte=0"`
}

// DashboardConfig defines dashboard fan-out parameters
type DashboardConfig struct {
	// UpdateTopic is the topic full record snapshots are published under
	UpdateTopic string `mapstructure:"update_topic" json:"update_topic" validate:"required"`
}

// IngestServerConfig defines configuration for the scan ingest server
type IngestServerConfig struct {
	// HTTPSetting is the HTTP API / server parameters for the ingest server
	HTTPSetting HTTPConfig `mapstructure:"api_server" json:"api_server" validate:"required,dive"`
	// Endpoints is the API endpoint config parameters for the ingest server
	Endpoints IngestEndpointConfig `mapstructure:"endpoint_config" json:"endpoint_config" validate:"required,dive"`
	// Websocket is the websocket endpoint config parameters
	Websocket WebsocketConfig `mapstructure:"websocket" json:"websocket" validate:"required,dive"`
	// Dashboard is the dashboard fan-out config parameters
	Dashboard DashboardConfig `mapstructure:"dashboard" json:"dashboard" validate:"required,dive"`
}

// ===============================================================================
// Complete Config

// SystemConfig defines the complete system config
type SystemConfig struct {
	// Mongo are the MongoDB related config parameters
	Mongo MongoConfig `mapstructure:"mongo" json:"mongo" validate:"required,dive"`
	// Ingest are the scan ingest server configs
	Ingest IngestServerConfig `mapstructure:"ingest" json:"ingest" validate:"required,dive"`
	// Bridge are the optional JetStream bridge configs
	Bridge *BridgeConfig `mapstructure:"bridge,omitempty" json:"bridge,omitempty" validate:"omitempty,dive"`
}

// ===============================================================================

// InstallDefaultConfigValues installs default config parameters in viper
func InstallDefaultConfigValues() {
	// Default Mongo settings
	viper.SetDefault("mongo.uri", "mongodb://127.0.0.1:27017")
	viper.SetDefault("mongo.db_name", "production_tracking")
	viper.SetDefault("mongo.collection", "rfid_tag_scans")
	viper.SetDefault("mongo.connect_timeout_sec", 30)
	viper.SetDefault("mongo.op_timeout_sec", 15)

	// Default Ingest server settings
	viper.SetDefault("ingest.endpoint_config.path_prefix", "/")
	viper.SetDefault("ingest.api_server.server_config.listen_on", "0.0.0.0")
	viper.SetDefault("ingest.api_server.server_config.listen_port", 8001)
	viper.SetDefault("ingest.api_server.server_config.read_timeout_sec", 60)
	viper.SetDefault("ingest.api_server.server_config.write_timeout_sec", 60)
	viper.SetDefault("ingest.api_server.server_config.idle_timeout_sec", 600)
	viper.SetDefault(
		"ingest.api_server.logging_config.request_id_header", "Scanstream-Request-ID",
	)
	viper.SetDefault(
		"ingest.api_server.logging_config.do_not_log_headers", []string{
			"WWW-Authenticate", "Authorization", "Proxy-Authenticate", "Proxy-Authorization",
		},
	)
	viper.SetDefault("ingest.websocket.device_path", "/rfid-ws")
	viper.SetDefault("ingest.websocket.dashboard_path", "/dashboard-ws")
	viper.SetDefault("ingest.websocket.device_idle_timeout_sec", 300)
	viper.SetDefault("ingest.dashboard.update_topic", "leadingLineUpdate")

	// No defaults for the bridge section. The JetStream bridge is only
	// active when the config file provides it.
}
