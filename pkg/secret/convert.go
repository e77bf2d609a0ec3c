package secret

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	corev1 "k8s.io/api/core/v1"
)

// Convert directive values.
const (
	ConvertDockerConfigJSON = "dockerconfigjson"
	convertFilePrefix       = "file:"
	convertFileSuffix       = ".yaml"
)

// DockerConfigJSONKey is the single data field produced by the registry
// credentials conversion.
const DockerConfigJSONKey = corev1.DockerConfigJsonKey

// TemplateLoader reads a template file named by a file: directive.
type TemplateLoader func(path string) ([]byte, error)

// OSLoader reads templates from the local filesystem.
func OSLoader(path string) ([]byte, error) {
	return os.ReadFile(path) //nolint:gosec // G304: path comes from the convert tag
}

// DirLoader resolves relative template paths against dir.
func DirLoader(dir string) TemplateLoader {
	return func(path string) ([]byte, error) {
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, path)
		}
		return OSLoader(path)
	}
}

// FSLoader reads templates from fsys. Leading slashes are ignored.
func FSLoader(fsys fs.FS) TemplateLoader {
	return func(path string) ([]byte, error) {
		return fs.ReadFile(fsys, strings.TrimLeft(path, "/"))
	}
}

type conversionKind int

const (
	conversionDockerConfigJSON conversionKind = iota + 1
	conversionTemplate
)

type conversion struct {
	kind conversionKind
	path string
}

// shaped is the data being converted along with the secret type.
type shaped struct {
	data       map[string]string
	secretType string
}

type convertFunc func(c conversion, in shaped, load TemplateLoader) (shaped, error)

var converters = map[conversionKind]convertFunc{
	conversionDockerConfigJSON: convertDockerConfigJSON,
	conversionTemplate:         convertTemplate,
}

func parseConversion(directive string) (conversion, error) {
	switch {
	case directive == ConvertDockerConfigJSON:
		return conversion{kind: conversionDockerConfigJSON}, nil
	case strings.HasPrefix(directive, convertFilePrefix) && strings.HasSuffix(directive, convertFileSuffix):
		path := strings.TrimPrefix(directive, convertFilePrefix)
		if path == convertFileSuffix {
			break
		}
		return conversion{kind: conversionTemplate, path: path}, nil
	}
	return conversion{}, fmt.Errorf("%w: %q", ErrUnknownConversion, directive)
}

// Convert applies a convert directive to decoded, unencoded data. It returns
// the new data and secret type.
func Convert(directive string, data map[string]string, secretType string, load TemplateLoader) (map[string]string, string, error) {
	c, err := parseConversion(directive)
	if err != nil {
		return nil, "", err
	}
	if load == nil {
		load = OSLoader
	}
	out, err := converters[c.kind](c, shaped{data: data, secretType: secretType}, load)
	if err != nil {
		return nil, "", err
	}
	return out.data, out.secretType, nil
}

type dockerAuth struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email"`
	Auth     string `json:"auth"`
}

type dockerConfig struct {
	Auths map[string]dockerAuth `json:"auths"`
}

var dockerConfigFields = []string{"registry", "username", "password", "email"}

func convertDockerConfigJSON(_ conversion, in shaped, _ TemplateLoader) (shaped, error) {
	var missing []string
	for _, field := range dockerConfigFields {
		if _, ok := in.data[field]; !ok {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return shaped{}, fmt.Errorf("%w: %s needs %s", ErrMissingConversionFields,
			ConvertDockerConfigJSON, strings.Join(missing, ", "))
	}

	username, password := in.data["username"], in.data["password"]
	cfg := dockerConfig{
		Auths: map[string]dockerAuth{
			in.data["registry"]: {
				Username: username,
				Password: password,
				Email:    in.data["email"],
				Auth:     base64.StdEncoding.EncodeToString([]byte(username + ":" + password)),
			},
		},
	}
	body, err := json.Marshal(cfg)
	if err != nil {
		return shaped{}, fmt.Errorf("failed to encode %s: %w", ConvertDockerConfigJSON, err)
	}

	return shaped{
		data:       map[string]string{DockerConfigJSONKey: string(body)},
		secretType: string(corev1.SecretTypeDockerConfigJson),
	}, nil
}

func convertTemplate(c conversion, in shaped, load TemplateLoader) (shaped, error) {
	src, err := load(c.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return shaped{}, fmt.Errorf("%w: %s", ErrConvertFileNotFound, c.path)
		}
		return shaped{}, fmt.Errorf("failed to read convert file %s: %w", c.path, err)
	}

	tmpl, err := template.New(filepath.Base(c.path)).
		Option("missingkey=error").
		Funcs(sprig.TxtFuncMap()).
		Parse(string(src))
	if err != nil {
		return shaped{}, fmt.Errorf("%w: %s: %v", ErrTemplateRender, c.path, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, in.data); err != nil {
		return shaped{}, fmt.Errorf("%w: %s: %v", ErrTemplateRender, c.path, err)
	}

	data, err := decodeYAML(buf.String())
	if err != nil {
		return shaped{}, fmt.Errorf("%w: %s: rendered output is not a YAML mapping: %v", ErrTemplateRender, c.path, err)
	}

	return shaped{data: data, secretType: in.secretType}, nil
}
