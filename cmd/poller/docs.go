package main

//go:generate swag init -g cmd/poller/main.go -o docs

// @title           Shop Poller API
// @version         0.1.0
// @description     Manual price-update triggers and coordination state of the shop price poller.
// @host            localhost:8080
// @BasePath        /
// @schemes         http
