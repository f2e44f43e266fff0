package utils

type DownloadEntry struct {
	OutputPath string `yaml:"op,omitempty"`
	URL        string `yaml:"link"`
}

type BatchFile struct {
	Downloads []DownloadEntry `yaml:"downloads"`
}
