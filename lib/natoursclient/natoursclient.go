package natoursclient

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/steinarvk/natours/lib/apierror"
	"github.com/steinarvk/natours/lib/logging"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

const configEnvVar = "NATOURS_CLIENT_CONFIG"

type Client struct {
	Scheme string `yaml:"scheme"`
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`

	// HTTPClient defaults to http.DefaultClient.
	HTTPClient HTTPDoer `yaml:"-"`
}

func DefaultConfigFilename(ctx context.Context) (string, error) {
	rv, err := homedir.Expand("~/.config/natours/natours-client.yaml")
	if err != nil {
		return "", err
	}
	return rv, nil
}

// ConfigFilenames lists the files named in NATOURS_CLIENT_CONFIG
// (colon-separated) followed by the default file.
func ConfigFilenames(ctx context.Context) ([]string, error) {
	logger := logging.FromContext(ctx)

	var rv []string

	if env := os.Getenv(configEnvVar); env != "" {
		for _, fn := range strings.Split(env, ":") {
			expanded, err := homedir.Expand(fn)
			if err != nil {
				return nil, err
			}
			rv = append(rv, expanded)
		}
	}

	defaultFilename, err := DefaultConfigFilename(ctx)
	if err != nil {
		logger.Warn("failed to determine default config filename", zap.Error(err))
	} else {
		rv = append(rv, defaultFilename)
	}

	return rv, nil
}

func LoadConfig(ctx context.Context) (*Config, error) {
	filenames, err := ConfigFilenames(ctx)
	if err != nil {
		return nil, err
	}
	return loadConfigFiles(ctx, filenames)
}

func loadConfigFiles(ctx context.Context, filenames []string) (*Config, error) {
	logger := logging.FromContext(ctx)

	var configs []*ConfigFile

	for _, fn := range filenames {
		if _, err := os.Stat(fn); err != nil {
			if os.IsNotExist(err) {
				logger.Debug("config file does not exist", zap.String("filename", fn))
				continue
			}
			return nil, err
		}

		fn, _ := filepath.Abs(fn)

		data, err := os.ReadFile(fn)
		if err != nil {
			return nil, apierror.New(
				apierror.WithPublicMessage("failed to read config file"),
				apierror.WithPublicData("filename", fn),
				apierror.WithCause(err),
			)
		}

		var cfg ConfigFile
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, apierror.New(
				apierror.WithPublicMessage("failed to parse config file"),
				apierror.WithPublicData("filename", fn),
				apierror.WithCause(err),
			)
		}

		cfg.Filename = fn
		configs = append(configs, &cfg)
	}

	return &Config{
		ConfigFiles: configs,
	}, nil
}

func (c *Config) ServerConfigs() []*ServerConfig {
	var rv []*ServerConfig
	for _, cf := range c.ConfigFiles {
		rv = append(rv, cf.Servers...)
	}
	return rv
}

func (c *Config) defaultServer() string {
	for _, cf := range c.ConfigFiles {
		if cf.DefaultServer != "" {
			return cf.DefaultServer
		}
	}
	return ""
}

func (s *ServerConfig) HasAlias(alias string) bool {
	for _, a := range s.Aliases {
		if a == alias {
			return true
		}
	}
	return false
}

var (
	errNoServer = apierror.New(
		apierror.WithPublicMessage("no server configuration found"),
	)

	errNoMatchingServer = apierror.New(
		apierror.WithPublicMessage("no matching server configuration found"),
	)
)

// New picks a server by alias or host name. With no selector the config's
// default server is used, and failing that the first one listed.
func New(ctx context.Context, cfg *Config, server string) (*Client, error) {
	logger := logging.FromContext(ctx)

	servers := cfg.ServerConfigs()
	if len(servers) == 0 {
		return nil, errNoServer
	}

	if server == "" {
		server = cfg.defaultServer()
	}

	serverCfg := servers[0]
	if server != "" {
		serverCfg = nil
		for _, s := range servers {
			if s.HasAlias(server) || s.Host == server {
				serverCfg = s
				break
			}
		}
		if serverCfg == nil {
			return nil, errNoMatchingServer
		}
	}

	rv := &Client{
		Scheme: serverCfg.Scheme,
		Host:   serverCfg.Host,
		Port:   serverCfg.Port,
	}

	if rv.Scheme == "" {
		rv.Scheme = "https"
	}

	logger.Debug(
		"chose client configuration",
		zap.String("selector_server", server),
		zap.String("chosen_host", rv.Host),
		zap.String("chosen_scheme", rv.Scheme),
	)

	return rv, nil
}
