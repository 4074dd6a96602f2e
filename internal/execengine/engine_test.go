package execengine

import (
	"errors"
	"testing"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		in       string
		lang     string
		version  string
		fileName string
	}{
		{"javascript", "javascript", "18.15.0", "main.js"},
		{"typescript", "typescript", "5.0.3", "main.ts"},
		{"python", "python", "3.10.0", "main.py"},
		{"java", "java", "15.0.2", "Main.java"},
		{"csharp", "csharp", "6.12.0", "Main.cs"},
		{"php", "php", "8.2.3", "main.php"},
		{"ruby", "ruby", "3.0.1", "main.rb"},
		{"go", "go", "1.16.2", "main.go"},
		{"rust", "rust", "1.68.2", "main.rs"},
		{"cpp", "cpp", "10.2.0", "main.cpp"},
		{"c", "c", "10.2.0", "main.c"},
		{"kotlin", "kotlin", "1.8.20", "Main.kt"},
		{"swift", "swift", "5.3.3", "main.swift"},
		{" Python ", "python", "3.10.0", "main.py"},
		{"JAVA", "java", "15.0.2", "Main.java"},
	}
	for _, tt := range tests {
		lang, version, fileName, err := Resolve(tt.in)
		if err != nil {
			t.Errorf("Resolve(%q) failed: %v", tt.in, err)
			continue
		}
		if lang != tt.lang || version != tt.version || fileName != tt.fileName {
			t.Errorf("Resolve(%q) = %s %s %s, want %s %s %s",
				tt.in, lang, version, fileName, tt.lang, tt.version, tt.fileName)
		}
	}
}

func TestResolveUnknown(t *testing.T) {
	for _, lang := range []string{"brainfuck", "", "c++", "node"} {
		if _, _, _, err := Resolve(lang); !errors.Is(err, ErrUnsupportedLanguage) {
			t.Errorf("Resolve(%q) = %v, want ErrUnsupportedLanguage", lang, err)
		}
		if Supported(lang) {
			t.Errorf("Supported(%q) = true", lang)
		}
	}
}

func TestLanguagesClosedSet(t *testing.T) {
	langs := Languages()
	if len(langs) != 13 {
		t.Errorf("expected 13 supported languages, got %d: %v", len(langs), langs)
	}
	for _, l := range langs {
		if !Supported(l) {
			t.Errorf("listed language %q not supported", l)
		}
	}
}
