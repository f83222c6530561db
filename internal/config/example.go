package config

import (
	_ "embed"
)

// ExampleName is the name reported when the bundled settings are in use.
const ExampleName = "settings.example.yaml"

//go:embed settings.example.yaml
var exampleSettings []byte

// Example returns the bundled example settings.
func Example() (*Settings, error) {
	return Decode(ExampleName, exampleSettings)
}

// ExampleBytes returns the raw bundled example file.
func ExampleBytes() []byte { return append([]byte(nil), exampleSettings...) }
