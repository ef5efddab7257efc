package config

// Config is the root configuration of the storage engine.
type Config struct {
	Logger  LoggerConfig  `yaml:"logger"`
	Storage StorageConfig `yaml:"storage"`
}

// StorageConfig covers on-disk layout and memtable sizing.
type StorageConfig struct {
	// DataDir holds the Plain Table files.
	DataDir string `yaml:"data_dir"`
	// WALDir holds the write-ahead log files. May equal DataDir.
	WALDir string `yaml:"wal_dir"`
	// FlushThresholdBytes is the memtable size estimate at which the active
	// memtable is rotated out and flushed to a Plain Table.
	FlushThresholdBytes int `yaml:"flush_threshold"`
	// FlushChanBuffSize bounds how many rotated memtables may queue for the
	// flusher before writers block.
	FlushChanBuffSize int `yaml:"flush_chan_buff_size"`
}

type LoggerConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns a baseline development config.
func Default() Config {
	return Config{
		Logger: LoggerConfig{
			Level: "INFO",
			JSON:  false,
		},
		Storage: StorageConfig{
			DataDir:             "./data",
			WALDir:              "./data",
			FlushThresholdBytes: 4 * 1024 * 1024,
			FlushChanBuffSize:   3,
		},
	}
}
