package config

import (
	"encoding/json"
	"errors"
	"os"
)

type Config struct {
	Store struct {
		Host           string `json:"host"`
		Port           uint64 `json:"port"`
		ConnectTimeout string `json:"connect_timeout"`
		ReadTimeout    string `json:"read_timeout"`
		WriteTimeout   string `json:"write_timeout"`
	} `json:"store"`
	DebugMode              bool   `json:"debug_mode"`
	AppName                string `json:"app_name"`
	AppPort                int    `json:"app_port"`
	RequireSubscribeToSend bool   `json:"require_subscribe_to_send"`
}

var config Config
var initialized = false

func ReadConfig() (Config, error) {
	bytes, err := os.ReadFile("config.json")

	if err != nil {
		writer, _ := os.OpenFile("config.json", os.O_RDONLY|os.O_CREATE, 0777)
		data, _ := json.MarshalIndent(config, "", "\t")
		_, _ = writer.Write(data)
		_ = writer.Close()
		return config, errors.New("the configuration file does not exist and has been created. Please try again after editing the configuration file")
	}

	err = json.Unmarshal(bytes, &config)

	if err != nil {
		return config, errors.New("the configuration file does not contain valid JSON")
	}

	initialized = true
	return config, nil
}

func GetConfig() (Config, error) {
	if initialized {
		return config, nil
	}
	return ReadConfig()
}
