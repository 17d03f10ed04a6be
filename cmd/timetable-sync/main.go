package main

import (
	"fmt"
	"os"
)

// @title Timetable Sync API
// @version 1.0.0
// @description Collaborative timetable editing: session locks, position mutations, move proposals and a live event stream.
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
