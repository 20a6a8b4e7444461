package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

var lineRe = regexp.MustCompile(`^([^=]+)=(.*)`)

// ParseFile reads key=value pairs, one per line. Lines starting with '#'
// are skipped. Keys and values are trimmed and keys are lower-cased. An
// empty value is kept, so "backup-dir=" clears a default. A later line wins
// over an earlier one.
func ParseFile(r io.Reader) (map[string]any, error) {
	values := make(map[string]any)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		m := lineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(m[1]))
		val := strings.TrimSpace(m[2])
		if key == "" {
			continue
		}
		values[key] = val
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return values, nil
}

// ReadInConfig merges the file at path into v. A missing file is only an
// error when required is set, since every key can also come from the
// environment.
func ReadInConfig(v *viper.Viper, path string, required bool) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !required {
			slog.Debug("config file not found", "path", path)
			return nil
		}
		return fmt.Errorf("config read '%s': %w", path, err)
	}
	defer f.Close()

	values, err := ParseFile(f)
	if err != nil {
		return fmt.Errorf("config read '%s': %w", path, err)
	}

	v.SetConfigFile(path)
	if err := v.MergeConfigMap(values); err != nil {
		return fmt.Errorf("config merge '%s': %w", path, err)
	}
	return nil
}

// LoadEnvFile exports the variables of a dotenv file into the process
// environment. Variables already set are left alone and a missing file is
// ignored.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("env file '%s': %w", path, err)
	}
	return nil
}
