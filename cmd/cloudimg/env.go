package main

import "github.com/joho/godotenv"

// loadEnvFile sets variables from a dotenv file. Variables already present in
// the process environment win.
func loadEnvFile(path string) error {
	return godotenv.Load(path)
}
