package natoursclient

type ServerConfig struct {
	Scheme  string   `yaml:"scheme"`
	Host    string   `yaml:"host"`
	Port    int      `yaml:"port"`
	Aliases []string `yaml:"aliases"`
}

type ConfigFile struct {
	Filename      string          `yaml:"filename"`
	Servers       []*ServerConfig `yaml:"servers"`
	DefaultServer string          `yaml:"default_server"`
}

type Config struct {
	ConfigFiles []*ConfigFile `yaml:"config_files"`
}
