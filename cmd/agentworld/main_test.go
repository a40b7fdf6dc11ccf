package main

import "testing"

func TestBuildRootCmdIncludesServe(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	if !names["serve"] {
		t.Fatalf("expected serve subcommand to be registered")
	}
}
