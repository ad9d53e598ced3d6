package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"cloudpico-thermo/internal/ble"
	"cloudpico-thermo/internal/utils"

	"github.com/spf13/viper"
)

// MinUpdateInterval is the shortest automatic refresh a sensor may be configured with.
const MinUpdateInterval = 15

type Config struct {
	AppEnv   string
	LogLevel slog.Level
	HTTPAddr string

	MQTTEnabled  bool
	MQTTBroker   string
	MQTTPort     int
	MQTTClientID string

	SQLitePath         string
	SQLiteDSN          string
	SQLiteMaxOpenConns int
	// HistoryRetention is how long readings are kept; zero keeps them forever.
	HistoryRetention time.Duration

	BLEAdapter string
	Sensors    []Sensor
}

// Sensor is one configured device. Offsets are in hundredths of a degree or percent.
type Sensor struct {
	Name                      string `mapstructure:"name"`
	Model                     string `mapstructure:"model"`
	Address                   string `mapstructure:"address"`
	UpdateInterval            int    `mapstructure:"update_interval"`
	TemperatureOffset         int    `mapstructure:"temperature_offset"`
	ExternalTemperatureOffset int    `mapstructure:"external_temperature_offset"`
	HumidityOffset            int    `mapstructure:"humidity_offset"`
	Active                    string `mapstructure:"active"`
}

// Interval is the automatic refresh period, zero when the sensor is read on demand.
func (s Sensor) Interval() time.Duration {
	return time.Duration(s.UpdateInterval) * time.Second
}

func (s Sensor) Calibration() ble.Calibration {
	return ble.Calibration{
		Temperature:         s.TemperatureOffset,
		ExternalTemperature: s.ExternalTemperatureOffset,
		Humidity:            s.HumidityOffset,
	}
}

// Selection is only meaningful on a validated sensor.
func (s Sensor) Selection() ble.Selection {
	sel, _ := ble.ParseSelection(s.Active)
	return sel
}

func LoadFromEnv() (Config, error) {
	appEnv := strings.TrimSpace(os.Getenv("APP_ENV"))
	if appEnv == "" {
		appEnv = "dev"
	}
	switch appEnv {
	case "dev", "prod":
	default:
		return Config{}, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", appEnv)
	}

	logLevelStr := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if logLevelStr == "" {
		logLevelStr = "info"
	}
	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}

	httpAddr := strings.TrimSpace(os.Getenv("HTTP_ADDR"))
	if httpAddr == "" {
		httpAddr = ":8080"
	}

	mqttEnabledStr := strings.TrimSpace(os.Getenv("MQTT_ENABLED"))
	if mqttEnabledStr == "" {
		mqttEnabledStr = "false"
	}
	mqttEnabled, err := strconv.ParseBool(mqttEnabledStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid MQTT_ENABLED %q: %w", mqttEnabledStr, err)
	}

	mqttBroker := strings.TrimSpace(os.Getenv("MQTT_BROKER"))
	if mqttBroker == "" {
		mqttBroker = "localhost"
	}

	mqttPortStr := strings.TrimSpace(os.Getenv("MQTT_PORT"))
	if mqttPortStr == "" {
		mqttPortStr = "1883"
	}
	mqttPort, err := strconv.Atoi(mqttPortStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid MQTT_PORT %q: %w", mqttPortStr, err)
	}

	mqttClientID := strings.TrimSpace(os.Getenv("MQTT_CLIENT_ID"))
	if mqttClientID == "" {
		mqttClientID = "cloudpico-thermo"
	}

	sqlitePath := strings.TrimSpace(os.Getenv("SQLITE_PATH"))
	if sqlitePath == "" {
		sqlitePath = "data/thermo.db"
	}
	sqliteDSN := strings.TrimSpace(os.Getenv("DB_DSN"))

	maxOpenConnsStr := strings.TrimSpace(os.Getenv("DB_MAX_OPEN_CONNS"))
	if maxOpenConnsStr == "" {
		maxOpenConnsStr = "1"
	}
	maxOpenConns, err := strconv.Atoi(maxOpenConnsStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid DB_MAX_OPEN_CONNS %q: %w", maxOpenConnsStr, err)
	}

	retentionStr := strings.TrimSpace(os.Getenv("HISTORY_RETENTION"))
	if retentionStr == "" {
		retentionStr = "720h"
	}
	retention, err := time.ParseDuration(retentionStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid HISTORY_RETENTION %q: %w", retentionStr, err)
	}
	if retention < 0 {
		return Config{}, fmt.Errorf("HISTORY_RETENTION must not be negative, got %v", retention)
	}

	bleAdapter := strings.TrimSpace(os.Getenv("BLE_ADAPTER"))
	if bleAdapter == "" {
		bleAdapter = "hci0"
	}

	var sensors []Sensor
	if path := strings.TrimSpace(os.Getenv("SENSORS_FILE")); path != "" {
		sensors, err = loadSensorsFile(path)
		if err != nil {
			return Config{}, err
		}
	} else {
		s, err := sensorFromEnv()
		if err != nil {
			return Config{}, err
		}
		sensors = []Sensor{s}
	}

	sensors, err = validateSensors(sensors)
	if err != nil {
		return Config{}, err
	}

	return Config{
		AppEnv:             appEnv,
		LogLevel:           level,
		HTTPAddr:           httpAddr,
		MQTTEnabled:        mqttEnabled,
		MQTTBroker:         mqttBroker,
		MQTTPort:           mqttPort,
		MQTTClientID:       mqttClientID,
		SQLitePath:         sqlitePath,
		SQLiteDSN:          sqliteDSN,
		SQLiteMaxOpenConns: maxOpenConns,
		HistoryRetention:   retention,
		BLEAdapter:         bleAdapter,
		Sensors:            sensors,
	}, nil
}

func sensorFromEnv() (Sensor, error) {
	s := Sensor{
		Name:    strings.TrimSpace(os.Getenv("SENSOR_NAME")),
		Model:   strings.TrimSpace(os.Getenv("SENSOR_MODEL")),
		Address: strings.TrimSpace(os.Getenv("SENSOR_ADDRESS")),
		Active:  strings.TrimSpace(os.Getenv("SENSOR_ACTIVE")),
	}
	if s.Name == "" {
		s.Name = "thermo"
	}
	if s.Model == "" {
		s.Model = "IBS-TH1"
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"SENSOR_UPDATE_INTERVAL", &s.UpdateInterval},
		{"SENSOR_TEMPERATURE_OFFSET", &s.TemperatureOffset},
		{"SENSOR_EXTERNAL_TEMPERATURE_OFFSET", &s.ExternalTemperatureOffset},
		{"SENSOR_HUMIDITY_OFFSET", &s.HumidityOffset},
	}
	for _, f := range ints {
		raw := strings.TrimSpace(os.Getenv(f.key))
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return Sensor{}, fmt.Errorf("invalid %s %q: %w", f.key, raw, err)
		}
		*f.dst = n
	}
	return s, nil
}

func loadSensorsFile(path string) ([]Sensor, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read SENSORS_FILE %q: %w", path, err)
	}
	var sensors []Sensor
	if err := v.UnmarshalKey("sensors", &sensors); err != nil {
		return nil, fmt.Errorf("decode SENSORS_FILE %q: %w", path, err)
	}
	if len(sensors) == 0 {
		return nil, fmt.Errorf("SENSORS_FILE %q lists no sensors", path)
	}
	return sensors, nil
}

func validateSensors(in []Sensor) ([]Sensor, error) {
	seen := make(map[string]struct{}, len(in))
	out := make([]Sensor, 0, len(in))
	for i, s := range in {
		s.Name = strings.TrimSpace(s.Name)
		if s.Name == "" {
			return nil, fmt.Errorf("sensor %d: name is required", i)
		}
		if strings.ContainsAny(s.Name, "/+#") {
			return nil, fmt.Errorf("sensor %q: name must not contain '/', '+' or '#'", s.Name)
		}
		if _, dup := seen[s.Name]; dup {
			return nil, fmt.Errorf("sensor %q: duplicate name", s.Name)
		}
		seen[s.Name] = struct{}{}

		if s.UpdateInterval != 0 && s.UpdateInterval < MinUpdateInterval {
			return nil, fmt.Errorf("sensor %q: update interval %ds must be 0 or at least %ds",
				s.Name, s.UpdateInterval, MinUpdateInterval)
		}
		if _, err := ble.ParseSelection(s.Active); err != nil {
			return nil, fmt.Errorf("sensor %q: %w", s.Name, err)
		}
		s.Address = utils.NormalizeAddress(s.Address)
		out = append(out, s)
	}
	return out, nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}
