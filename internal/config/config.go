package config

import (
	"time"

	"github.com/pion/webrtc/v4"
)

// AppConfig holds the complete broadcast core configuration. It is
// loaded once at startup via Load and optionally hot-reloaded by the
// Manager when the config file changes on disk.
type AppConfig struct {
	Server    ServerConfig    `yaml:"server" json:"server"`
	WebRTC    WebRTCConfig    `yaml:"webrtc" json:"webrtc"`
	Broadcast BroadcastConfig `yaml:"broadcast" json:"broadcast"`
	Upload    UploadConfig    `yaml:"upload" json:"upload"`
}

// ServerConfig configures the signalling server surface.
type ServerConfig struct {
	// Port is the TCP port the HTTP/WebSocket server listens on.
	Port int `yaml:"port" json:"port"`

	// TLSCrtFile and TLSKeyFile enable HTTPS/WSS when both are set.
	TLSCrtFile *string `yaml:"tlsCrtFile" json:"tlsCrtFile"`
	TLSKeyFile *string `yaml:"tlsKeyFile" json:"tlsKeyFile"`

	// RoomIdleTimeout is how long a room may sit without signaling
	// activity before the sweeper closes it.
	RoomIdleTimeout time.Duration `yaml:"roomIdleTimeout" json:"roomIdleTimeout"`
}

// ICEServer holds one STUN/TURN server entry.
type ICEServer struct {
	URLs       []string `yaml:"urls" json:"urls"`
	Username   string   `yaml:"username" json:"username"`
	Credential string   `yaml:"credential" json:"credential"`
}

// WebRTCConfig configures the participant-side peer connection.
type WebRTCConfig struct {
	ICEServers []ICEServer `yaml:"iceServers" json:"iceServers"`

	// NegotiationTimeout bounds the wait for the opponent to join and
	// for ICE to complete before the session reports failed.
	NegotiationTimeout time.Duration `yaml:"negotiationTimeout" json:"negotiationTimeout"`

	// StatusPollInterval is the cadence of the opponent-arrival poll.
	StatusPollInterval time.Duration `yaml:"statusPollInterval" json:"statusPollInterval"`
}

// BroadcastConfig configures the host-side compositing pipeline.
type BroadcastConfig struct {
	FrameRate       int           `yaml:"frameRate" json:"frameRate"`
	SegmentDuration time.Duration `yaml:"segmentDuration" json:"segmentDuration"`

	// Canvas dimensions of the composited broadcast frame. Each feed
	// occupies one half, scaled to fit.
	Width  int `yaml:"width" json:"width"`
	Height int `yaml:"height" json:"height"`

	// ChunkQueueSize bounds the compositor->uploader hand-off queue.
	// A full queue pauses segment hand-off rather than dropping.
	ChunkQueueSize int `yaml:"chunkQueueSize" json:"chunkQueueSize"`
}

// UploadConfig configures chunk delivery to the transcoding endpoint.
type UploadConfig struct {
	// Endpoint is the base URL of the transcoding/distribution service.
	Endpoint string `yaml:"endpoint" json:"endpoint"`

	MaxAttempts    int           `yaml:"maxAttempts" json:"maxAttempts"`
	InitialBackoff time.Duration `yaml:"initialBackoff" json:"initialBackoff"`
	RequestTimeout time.Duration `yaml:"requestTimeout" json:"requestTimeout"`
}

func DefaultAppConfig() AppConfig {
	return AppConfig{
		Server: ServerConfig{
			Port:            8000,
			RoomIdleTimeout: 5 * time.Minute,
		},
		WebRTC: WebRTCConfig{
			ICEServers: []ICEServer{
				{URLs: []string{"stun:stun.l.google.com:19302"}},
			},
			NegotiationTimeout: 30 * time.Second,
			StatusPollInterval: time.Second,
		},
		Broadcast: BroadcastConfig{
			FrameRate:       15,
			SegmentDuration: 10 * time.Second,
			Width:           1280,
			Height:          720,
			ChunkQueueSize:  8,
		},
		Upload: UploadConfig{
			Endpoint:       "http://localhost:9000",
			MaxAttempts:    3,
			InitialBackoff: 500 * time.Millisecond,
			RequestTimeout: 15 * time.Second,
		},
	}
}

type Option func(*AppConfig)

func WithServerPort(port int) Option {
	return func(c *AppConfig) {
		c.Server.Port = port
	}
}

func WithTLS(crtFile, keyFile string) Option {
	return func(c *AppConfig) {
		c.Server.TLSCrtFile = &crtFile
		c.Server.TLSKeyFile = &keyFile
	}
}

func WithICEServers(servers []ICEServer) Option {
	return func(c *AppConfig) {
		c.WebRTC.ICEServers = servers
	}
}

func WithUploadEndpoint(endpoint string) Option {
	return func(c *AppConfig) {
		c.Upload.Endpoint = endpoint
	}
}

func WithSegmentDuration(d time.Duration) Option {
	return func(c *AppConfig) {
		c.Broadcast.SegmentDuration = d
	}
}

// WebrtcConfiguration maps the configured ICE servers into a pion
// peer connection configuration.
func (c WebRTCConfig) WebrtcConfiguration() webrtc.Configuration {
	conf := webrtc.Configuration{}
	for _, s := range c.ICEServers {
		conf.ICEServers = append(conf.ICEServers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return conf
}
