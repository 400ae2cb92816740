// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2024 Emir Aganovic

package playrtp

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FileConfig is the optional YAML configuration file. Buffer values are in
// samples. Command-line flags override anything set here.
type FileConfig struct {
	RTPMinBuffer  int    `yaml:"rtp_minbuffer"`
	RTPMaxBuffer  int    `yaml:"rtp_maxbuffer"`
	RTPRcvBuf     int    `yaml:"rtp_rcvbuf"`
	API           string `yaml:"api"`
	Device        string `yaml:"device"`
	ControlSocket string `yaml:"control_socket"`
}

// LoadConfig reads path. A missing file is not an error; an unreadable or
// malformed one is.
func LoadConfig(path string) (*FileConfig, error) {
	conf := &FileConfig{}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return conf, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, conf); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if conf.RTPMinBuffer < 0 || conf.RTPMaxBuffer < 0 || conf.RTPRcvBuf < 0 {
		return nil, fmt.Errorf("config %s: buffer sizes must be non-negative", path)
	}
	return conf, nil
}
