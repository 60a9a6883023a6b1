/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package main

import "github.com/poddigest/poddigest/cmd"

func main() {
	cmd.Execute()
}
