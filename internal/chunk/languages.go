package chunk

import (
	"bytes"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// LanguageConfig describes how declarations map to symbol kinds for one
// language.
type LanguageConfig struct {
	Name       string
	Extensions []string

	// DeclKinds maps AST node types to the symbol kind they declare.
	// Any node whose type appears here becomes a chunk boundary.
	DeclKinds map[string]SymbolKind
}

// LanguageRegistry manages supported languages and their grammars.
type LanguageRegistry struct {
	mu          sync.RWMutex
	configs     map[string]*LanguageConfig
	extToLang   map[string]string
	tsLanguages map[string]*sitter.Language
}

// NewLanguageRegistry creates a registry with all built-in languages.
func NewLanguageRegistry() *LanguageRegistry {
	r := &LanguageRegistry{
		configs:     make(map[string]*LanguageConfig),
		extToLang:   make(map[string]string),
		tsLanguages: make(map[string]*sitter.Language),
	}

	r.register(&LanguageConfig{
		Name:       "go",
		Extensions: []string{".go"},
		DeclKinds: map[string]SymbolKind{
			"function_declaration": SymbolFunction,
			"method_declaration":   SymbolMethod,
			"type_declaration":     SymbolType,
			"const_declaration":    SymbolConstant,
			"var_declaration":      SymbolVariable,
		},
	}, golang.GetLanguage())

	r.register(&LanguageConfig{
		Name:       "python",
		Extensions: []string{".py"},
		DeclKinds: map[string]SymbolKind{
			"function_definition": SymbolFunction,
			"class_definition":    SymbolClass,
		},
	}, python.GetLanguage())

	jsDecls := map[string]SymbolKind{
		"function_declaration": SymbolFunction,
		"method_definition":    SymbolMethod,
		"class_declaration":    SymbolClass,
		"lexical_declaration":  SymbolVariable,
		"variable_declaration": SymbolVariable,
	}
	r.register(&LanguageConfig{
		Name:       "javascript",
		Extensions: []string{".js", ".mjs", ".jsx"},
		DeclKinds:  jsDecls,
	}, javascript.GetLanguage())

	tsDecls := map[string]SymbolKind{
		"function_declaration":   SymbolFunction,
		"method_definition":      SymbolMethod,
		"class_declaration":      SymbolClass,
		"interface_declaration":  SymbolInterface,
		"type_alias_declaration": SymbolType,
		"enum_declaration":       SymbolEnum,
		"lexical_declaration":    SymbolVariable,
		"variable_declaration":   SymbolVariable,
	}
	r.register(&LanguageConfig{
		Name:       "typescript",
		Extensions: []string{".ts"},
		DeclKinds:  tsDecls,
	}, typescript.GetLanguage())

	r.register(&LanguageConfig{
		Name:       "tsx",
		Extensions: []string{".tsx"},
		DeclKinds:  tsDecls,
	}, tsx.GetLanguage())

	r.register(&LanguageConfig{
		Name:       "rust",
		Extensions: []string{".rs"},
		DeclKinds: map[string]SymbolKind{
			"function_item": SymbolFunction,
			"impl_item":     SymbolClass,
			"struct_item":   SymbolType,
			"enum_item":     SymbolEnum,
			"trait_item":    SymbolTrait,
			"mod_item":      SymbolModule,
			"const_item":    SymbolConstant,
			"static_item":   SymbolVariable,
			"type_item":     SymbolType,
		},
	}, rust.GetLanguage())

	r.register(&LanguageConfig{
		Name:       "java",
		Extensions: []string{".java"},
		DeclKinds: map[string]SymbolKind{
			"class_declaration":       SymbolClass,
			"interface_declaration":   SymbolInterface,
			"enum_declaration":        SymbolEnum,
			"method_declaration":      SymbolMethod,
			"constructor_declaration": SymbolMethod,
		},
	}, java.GetLanguage())

	return r
}

func (r *LanguageRegistry) register(config *LanguageConfig, tsLang *sitter.Language) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.configs[config.Name] = config
	r.tsLanguages[config.Name] = tsLang
	for _, ext := range config.Extensions {
		r.extToLang[ext] = config.Name
	}
}

// GetByName returns the configuration for a language name.
func (r *LanguageRegistry) GetByName(name string) (*LanguageConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	config, ok := r.configs[name]
	return config, ok
}

// GetTreeSitterLanguage returns the grammar for a language name.
func (r *LanguageRegistry) GetTreeSitterLanguage(name string) (*sitter.Language, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	lang, ok := r.tsLanguages[name]
	return lang, ok
}

// Languages returns all registered language names.
func (r *LanguageRegistry) Languages() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.configs))
	for name := range r.configs {
		names = append(names, name)
	}
	return names
}

// DetectLanguage resolves a language from the file extension, falling back
// to a shebang sniff for extensionless scripts. Returns "" when unknown.
func (r *LanguageRegistry) DetectLanguage(path string, content []byte) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ext := strings.ToLower(pathExt(path))
	if lang, ok := r.extToLang[ext]; ok {
		return lang
	}

	if bytes.HasPrefix(content, []byte("#!")) {
		firstLine := content
		if idx := bytes.IndexByte(content, '\n'); idx >= 0 {
			firstLine = content[:idx]
		}
		switch {
		case bytes.Contains(firstLine, []byte("python")):
			return "python"
		case bytes.Contains(firstLine, []byte("node")):
			return "javascript"
		}
	}

	return ""
}

func pathExt(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		switch path[i] {
		case '.':
			return path[i:]
		case '/', '\\':
			return ""
		}
	}
	return ""
}

var defaultRegistry = NewLanguageRegistry()

// DefaultRegistry returns the process-wide language registry.
func DefaultRegistry() *LanguageRegistry {
	return defaultRegistry
}
