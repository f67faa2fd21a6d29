package ai

import (
	"fmt"
	"strings"
	"text/template"
)

// Instruction is a stage prompt: a fixed system message plus a user message
// template filled from the stage input.
type Instruction struct {
	Name   string
	System string
	User   *template.Template
}

// Render fills the user template with input.
func (i Instruction) Render(input any) (string, error) {
	if i.User == nil {
		return "", fmt.Errorf("instruction %s has no user template", i.Name)
	}
	var b strings.Builder
	if err := i.User.Execute(&b, input); err != nil {
		return "", fmt.Errorf("render %s: %w", i.Name, err)
	}
	return b.String(), nil
}
