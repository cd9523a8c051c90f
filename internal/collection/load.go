package collection

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/blang/semver"
	"github.com/tidwall/gjson"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"pkt.systems/hopprun/internal/errs"
)

// MaxSchemaVersion is the newest collection schema major version accepted.
var MaxSchemaVersion = semver.MustParse("12.0.0")

// LoadCollections reads a collection document from path. The document holds
// one collection object or an array of them, as JSON (comments and trailing
// commas allowed) or YAML.
func LoadCollections(path string) ([]Collection, error) {
	data, err := ReadDocument(path)
	if err != nil {
		return nil, err
	}
	return ParseCollections(data)
}

// LoadEnvironment reads an environment document from path.
func LoadEnvironment(path string, secrets SecretLookup) (Environment, error) {
	data, err := ReadDocument(path)
	if err != nil {
		return Environment{}, err
	}
	return ParseEnvironment(data, secrets)
}

// ReadDocument returns the document at path as plain JSON.
func ReadDocument(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errs.Wrap(errs.FileNotFound, err, path)
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var node any
		if err := yaml.Unmarshal(raw, &node); err != nil {
			return nil, errs.Wrap(errs.FileNotJSON, err, path)
		}
		data, err := json.Marshal(node)
		if err != nil {
			return nil, errs.Wrap(errs.FileNotJSON, err, path)
		}
		return data, nil
	}
	data := jsonc.ToJSON(raw)
	if !json.Valid(data) {
		return nil, errs.Newf(errs.FileNotJSON, "%s is not valid JSON", path)
	}
	return data, nil
}

// ParseCollections validates and decodes a collection document.
func ParseCollections(data []byte) ([]Collection, error) {
	if err := validateDocument(collectionSchema, data); err != nil {
		return nil, errs.Wrap(errs.MalformedCollection, err, "")
	}
	if err := checkSchemaVersions(data); err != nil {
		return nil, err
	}
	var out []Collection
	if gjson.ParseBytes(data).IsArray() {
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, errs.Wrap(errs.MalformedCollection, err, "")
		}
		return out, nil
	}
	var one Collection
	if err := json.Unmarshal(data, &one); err != nil {
		return nil, errs.Wrap(errs.MalformedCollection, err, "")
	}
	return []Collection{one}, nil
}

func checkSchemaVersions(data []byte) error {
	var err error
	check := func(c gjson.Result) bool {
		v := c.Get("v")
		if !v.Exists() {
			return true
		}
		ver, perr := semver.ParseTolerant(v.String())
		if perr != nil {
			err = errs.Newf(errs.MalformedCollection, "collection %q: invalid schema version %q", c.Get("name").String(), v.String())
			return false
		}
		if ver.Major > MaxSchemaVersion.Major {
			err = errs.Newf(errs.MalformedCollection, "collection %q: schema version %s is newer than supported %d", c.Get("name").String(), v.String(), MaxSchemaVersion.Major)
			return false
		}
		return true
	}
	doc := gjson.ParseBytes(data)
	if doc.IsArray() {
		doc.ForEach(func(_, c gjson.Result) bool { return check(c) })
		return err
	}
	check(doc)
	return err
}
