package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pion/webrtc/v4"
)

type Config struct {
	Debug      bool   `env:"DEBUG" envDefault:"false"`
	Port       string `env:"PORT" envDefault:"3000"`
	MetricPort string `env:"METRIC_PORT" envDefault:"9090"`
	Domain     string `env:"DOMAIN" envDefault:"http://localhost:3000"`
	JWTSecret  string `env:"JWT_SECRET,required"`

	StunURL string `env:"STUN_URL" envDefault:"stun:stun.l.google.com:19302"`

	CoturnServer CoturnConfig
	Postgres     PostgresConfig
	Call         CallConfig
}

type PostgresConfig struct {
	URL string `env:"POSTGRES_URL"`

	Host     string `env:"POSTGRES_HOST" envDefault:"localhost"`
	Port     int    `env:"POSTGRES_PORT" envDefault:"5432"`
	User     string `env:"POSTGRES_USER" envDefault:"postgres"`
	Password string `env:"POSTGRES_PASSWORD" envDefault:"postgres"`
	Name     string `env:"POSTGRES_NAME" envDefault:"liveclass"`
	SSL      string `env:"POSTGRES_SSL" envDefault:"disable"`
}

func (p *PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}

	return fmt.Sprintf("postgresql://%s:%s@%s:%d/%s?sslmode=%s",
		p.User,
		p.Password,
		p.Host,
		p.Port,
		p.Name,
		p.SSL,
	)
}

type CoturnConfig struct {
	Host     string `env:"COTURN_HOST"`
	Username string `env:"COTURN_USERNAME"`
	Password string `env:"COTURN_PASSWORD"`

	// Secret matches coturn's static-auth-secret; used to mint
	// ephemeral credentials for clients.
	Secret string `env:"COTURN_SECRET"`
}

// CallConfig holds client-side call session settings for the join command.
type CallConfig struct {
	ServerURL string `env:"LIVECLASS_SERVER_URL" envDefault:"ws://localhost:3000"`

	NegotiationTimeout time.Duration `env:"NEGOTIATION_TIMEOUT" envDefault:"30s"`

	// Local RTP feeds (e.g. ffmpeg) the media layer reads from.
	MicRTPAddr    string `env:"MIC_RTP_ADDR" envDefault:"127.0.0.1:4000"`
	CameraRTPAddr string `env:"CAMERA_RTP_ADDR" envDefault:"127.0.0.1:4002"`
	ScreenRTPAddr string `env:"SCREEN_RTP_ADDR" envDefault:"127.0.0.1:4004"`
}

func New() (*Config, error) {
	c, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	return &c, nil
}

// ICEServers assembles the STUN entry plus TURN entries when coturn is
// configured.
func (c *Config) ICEServers() []webrtc.ICEServer {
	servers := []webrtc.ICEServer{
		{URLs: []string{c.StunURL}},
	}

	if c.CoturnServer.Host == "" {
		return servers
	}

	servers = append(servers,
		webrtc.ICEServer{
			URLs:       []string{fmt.Sprintf("turn:%s?transport=udp", c.CoturnServer.Host)},
			Username:   c.CoturnServer.Username,
			Credential: c.CoturnServer.Password,
		},
		webrtc.ICEServer{
			URLs:       []string{fmt.Sprintf("turn:%s?transport=tcp", c.CoturnServer.Host)},
			Username:   c.CoturnServer.Username,
			Credential: c.CoturnServer.Password,
		},
	)

	return servers
}
