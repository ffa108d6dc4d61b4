package main

// General API documentation for swaggo. The served document lives in
// internal/httpapi/swagger.go (build tag swagger).
//
// @title           completiond API
// @version         1.0
// @description     Text completion over text-generation, text2text-generation and summarization pipelines.
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
