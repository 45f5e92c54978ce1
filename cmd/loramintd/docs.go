package main

// General API documentation for swaggo. Regenerate internal/apidocs with
// `swag init -g cmd/loramintd/docs.go -o internal/apidocs`.
//
// @title           loramintd API
// @version         1.0
// @description     Orchestration API for the image generation and LoRA training engine.
//
// @contact.name   loramint maintainers
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
