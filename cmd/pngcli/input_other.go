//go:build !unix

package main

import "os"

func readInput(path string) ([]byte, func(), error) {
	data, err := os.ReadFile(path)
	return data, func() {}, err
}
