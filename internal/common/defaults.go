package common

import "github.com/keltia/fetiche/internal/models"

// DefaultConfig carries the built-in site table, used when no config
// file is given. Credentials default to anonymous; real deployments
// override per-site auth in their own file.
func DefaultConfig() *Config {
	return &Config{
		Version: ConfigVersion,
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout"},
		},
		Sources: map[string]*models.Site{
			"asd": {
				DType:   "drone",
				Format:  "asd",
				BaseURL: "https://airspacedrone.com/api",
				Auth:    models.Auth{Kind: models.AuthLogin},
				Routes: map[string]string{
					models.RouteAuth: "/security/login",
					models.RouteGet:  "/journeys/filteredlocations/json",
				},
				Features: []models.Capability{models.CanFetch},
			},
			"opensky": {
				DType:   "adsb",
				Format:  "opensky",
				BaseURL: "https://opensky-network.org/api",
				Auth:    models.Auth{Kind: models.AuthAnon},
				Routes: map[string]string{
					models.RouteGet:    "/states/own",
					models.RouteStream: "/states/own",
				},
				Features: []models.Capability{models.CanFetch, models.CanStream},
			},
			"senhive": {
				DType:   "drone",
				Format:  "senhive",
				BaseURL: "tcp.senhive.example.net:5672",
				Auth:    models.Auth{Kind: models.AuthVhost, Vhost: "senhive"},
				Routes: map[string]string{
					models.RouteStream: "fused_data",
				},
				Features: []models.Capability{models.CanStream},
			},
			"avionix": {
				DType:   "adsb",
				Format:  "cubedata",
				BaseURL: "tcp.aero-network.com:50007",
				Auth:    models.Auth{Kind: models.AuthUserKey},
				Routes: map[string]string{
					models.RouteStream: "",
				},
				Features: []models.Capability{models.CanStream},
			},
			"aeroscope": {
				DType:   "drone",
				Format:  "aeroscope",
				BaseURL: "http://127.0.0.1:2400",
				Auth:    models.Auth{Kind: models.AuthToken},
				Routes: map[string]string{
					models.RouteAuth: "/login",
					models.RouteGet:  "/drone",
				},
				Features: []models.Capability{models.CanFetch},
			},
		},
		Storage: map[string]AreaConfig{
			"default": {Path: "data", Rotation: "1h"},
		},
	}
}
