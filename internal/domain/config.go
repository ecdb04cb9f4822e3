package domain

type Config struct {
	Version    string
	ConfigPath string

	MongoURI      string `yaml:"mongoUri"`
	MongoDatabase string `yaml:"mongoDatabase"`
	ProxyURL      string `yaml:"proxyUrl"`
	ChromeWS      string `yaml:"chromeWs"`
	SentryDSN     string

	MaxResults      int `yaml:"maxResults"`
	RequestTimeout  int `yaml:"requestTimeout"` // in seconds
	CacheTTL        int `yaml:"cacheTtl"`       // in minutes
	CacheSize       int `yaml:"cacheSize"`
	BrowserSessions int `yaml:"browserSessions"`
	IndexInterval   int `yaml:"indexInterval"` // in minutes

	LogPath       string `yaml:"logPath"`
	LogLevel      string `yaml:"logLevel"`
	LogMaxSize    int    `yaml:"logMaxSize"` // in megabytes
	LogMaxBackups int    `yaml:"logMaxBackups"`
}
