package schema

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"energy-ingest/internal/models"
)

// Registry схемы и правила трансляции по типу устройства.
// Заполняется один раз при старте, дальше только чтение без блокировок.
type Registry struct {
	entries map[string]entry
}

type entry struct {
	schema *DeviceSchema
	rules  RuleSet
}

// NormalizeType приводит идентификатор типа к ключу реестра
func NormalizeType(deviceType string) string {
	return strings.ToUpper(strings.TrimSpace(deviceType))
}

// NewRegistry строит реестр из документов схем и правил, ключ - тип устройства
func NewRegistry(schemaDocs, ruleDocs map[string][]byte, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}

	r := &Registry{entries: make(map[string]entry, len(schemaDocs))}

	for name, doc := range schemaDocs {
		compiled, err := CompileSchema(name, doc)
		if err != nil {
			return nil, err
		}
		r.entries[compiled.Type] = entry{schema: compiled}
	}

	for name, doc := range ruleDocs {
		key := NormalizeType(name)
		rules, err := ParseRules(doc)
		if err != nil {
			return nil, fmt.Errorf("rules for %s: %w", key, err)
		}

		e, ok := r.entries[key]
		if !ok {
			logger.Warn("rule document without schema ignored", "device_type", key)
			continue
		}
		e.rules = rules
		r.entries[key] = e
	}

	for key, e := range r.entries {
		if e.rules == nil {
			logger.Warn("no translation rules for device type", "device_type", key)
		}
	}

	return r, nil
}

// LoadRegistry читает схемы и правила из двух параллельных директорий
func LoadRegistry(schemaDir, rulesDir string, logger *slog.Logger) (*Registry, error) {
	schemaDocs, err := readDocuments(schemaDir)
	if err != nil {
		return nil, err
	}
	ruleDocs, err := readDocuments(rulesDir)
	if err != nil {
		return nil, err
	}
	return NewRegistry(schemaDocs, ruleDocs, logger)
}

// Lookup возвращает схему и правила для типа устройства
func (r *Registry) Lookup(deviceType string) (*DeviceSchema, RuleSet, bool) {
	e, ok := r.entries[NormalizeType(deviceType)]
	if !ok {
		return nil, nil, false
	}
	return e.schema, e.rules, true
}

// Require как Lookup, но для незарегистрированного типа возвращает ErrSchemaNotFound
func (r *Registry) Require(deviceType string) (*DeviceSchema, RuleSet, error) {
	s, rules, ok := r.Lookup(deviceType)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", models.ErrSchemaNotFound, NormalizeType(deviceType))
	}
	return s, rules, nil
}

// Types возвращает зарегистрированные типы в отсортированном виде
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.entries))
	for key := range r.entries {
		types = append(types, key)
	}
	sort.Strings(types)
	return types
}

func readDocuments(dir string) (map[string][]byte, error) {
	docs := make(map[string][]byte)
	if dir == "" {
		return docs, nil
	}

	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}

	// Имена файлов после нормализации должны быть уникальны
	sources := make(map[string]string, len(files))
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		ext := filepath.Ext(f.Name())
		if ext != ".json" && ext != ".jsonc" {
			continue
		}

		deviceType := NormalizeType(strings.TrimSuffix(f.Name(), ext))
		if prev, ok := sources[deviceType]; ok {
			return nil, fmt.Errorf("%s and %s in %s both define device type %s", prev, f.Name(), dir, deviceType)
		}
		sources[deviceType] = f.Name()

		data, err := os.ReadFile(filepath.Join(dir, f.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", f.Name(), err)
		}
		docs[deviceType] = data
	}

	return docs, nil
}
