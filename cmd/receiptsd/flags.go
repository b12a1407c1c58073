package main

// GlobalFlags holds persistent flags shared by all subcommands.
type GlobalFlags struct {
	ConfigPath string
}

// RunFlags holds flags for the run subcommand.
type RunFlags struct {
	Stores      []string
	Mode        string
	MergeStderr bool
}

// AckFlags holds flags for the ack subcommand.
type AckFlags struct {
	StoreID string
}

// RunsFlags holds flags for the runs subcommand.
type RunsFlags struct {
	Limit int
}

// ServeFlags holds flags for the serve subcommand.
type ServeFlags struct {
	Listen   string
	BasePath string
}
