package main

import "divrecon/internal/app"

func main() {
	app.Main()
}
