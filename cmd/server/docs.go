package main

//go:generate swag init -g cmd/server/main.go -o docs

// @title           Veltrix Strategy API
// @version         0.1.0
// @description     Strategy lifecycle, parameters, broker accounts and AI drafting.
// @host            localhost:8080
// @BasePath        /
// @schemes         http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
