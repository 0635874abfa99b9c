package main

import "chat-realtime/internal/app"

func main() {
	app.Run()
}
