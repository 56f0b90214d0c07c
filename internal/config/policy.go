// policy.go — файл политики доступа (AP_POLICY_FILE).
//
// Формат:
//
//	{
//	  "collections": {
//	    "files": {
//	      "base_path": "/files",
//	      "http_headers": {"Cache-Control": "no-store"},
//	      "rules": {
//	        "insert":   {"allow": ["authenticated"]},
//	        "download": {"deny": ["anonymous"], "allow": ["anyone"]},
//	        "remove":   {"allow": ["owner", "scope:ap:admin"]}
//	      }
//	    }
//	  }
//	}
//
// Имена правил проверяются при построении реестра AccessGate.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/bigkaa/goartstore/access-point/internal/domain/model"
)

// DefaultCollection — коллекция политики по умолчанию.
const DefaultCollection = "files"

// reservedPrefixes — пути служебных endpoint-ов, недоступные коллекциям.
var reservedPrefixes = []string{"/api", "/health", "/metrics"}

// RuleNames — имена правил одного класса разрешений.
type RuleNames struct {
	Deny  []string `json:"deny,omitempty"`
	Allow []string `json:"allow,omitempty"`
}

// CollectionPolicy — маршруты и правила одной коллекции.
type CollectionPolicy struct {
	// BasePath — префикс HTTP-маршрутов, по умолчанию "/<имя>"
	BasePath string `json:"base_path,omitempty"`
	// HTTPHeaders — дополнительные заголовки ответов на скачивание
	HTTPHeaders map[string]string `json:"http_headers,omitempty"`
	// Rules — класс разрешений → правила
	Rules map[string]RuleNames `json:"rules"`
}

// Policy — коллекции точки доступа.
type Policy struct {
	Collections map[string]CollectionPolicy `json:"collections"`
}

// DefaultPolicy — одна коллекция files: загрузка для аутентифицированных,
// скачивание для всех, удаление для владельца.
func DefaultPolicy() *Policy {
	return &Policy{
		Collections: map[string]CollectionPolicy{
			DefaultCollection: {
				BasePath: "/" + DefaultCollection,
				Rules: map[string]RuleNames{
					string(model.PermInsert):   {Allow: []string{"authenticated"}},
					string(model.PermDownload): {Allow: []string{"anyone"}},
					string(model.PermRemove):   {Allow: []string{"owner"}},
				},
			},
		},
	}
}

// LoadPolicy читает файл политики. Пустой путь — DefaultPolicy.
func LoadPolicy(path string) (*Policy, error) {
	if path == "" {
		return DefaultPolicy(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("AP_POLICY_FILE: %w", err)
	}
	return ParsePolicy(data)
}

// ParsePolicy разбирает и валидирует политику. Неизвестные поля — ошибка.
func ParsePolicy(data []byte) (*Policy, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var p Policy
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("AP_POLICY_FILE: некорректный JSON: %w", err)
	}
	if len(p.Collections) == 0 {
		return nil, fmt.Errorf("AP_POLICY_FILE: не задано ни одной коллекции")
	}

	paths := make(map[string]string, len(p.Collections))
	for name, c := range p.Collections {
		if !model.ValidName(name) {
			return nil, fmt.Errorf("AP_POLICY_FILE: недопустимое имя коллекции %q", name)
		}
		if c.BasePath == "" {
			c.BasePath = "/" + name
		}
		if err := validateBasePath(c.BasePath); err != nil {
			return nil, fmt.Errorf("AP_POLICY_FILE: коллекция %s: %w", name, err)
		}
		if other, ok := paths[c.BasePath]; ok {
			return nil, fmt.Errorf("AP_POLICY_FILE: коллекции %s и %s используют один base_path %s", other, name, c.BasePath)
		}
		paths[c.BasePath] = name
		p.Collections[name] = c
	}
	return &p, nil
}

// Names возвращает имена коллекций в алфавитном порядке.
func (p *Policy) Names() []string {
	names := make([]string, 0, len(p.Collections))
	for name := range p.Collections {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func validateBasePath(path string) error {
	if !strings.HasPrefix(path, "/") || path == "/" || strings.HasSuffix(path, "/") {
		return fmt.Errorf("base_path %q должен начинаться с / и не заканчиваться /", path)
	}
	if strings.ContainsAny(path, "{}*") {
		return fmt.Errorf("base_path %q не должен содержать шаблонов", path)
	}
	for _, prefix := range reservedPrefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return fmt.Errorf("base_path %q пересекается со служебным %s", path, prefix)
		}
	}
	return nil
}
