package main

import "github.com/killallgit/vibematch-api/cmd"

// @title           VibeMatch API
// @version         1.0
// @description     Audio acquisition and music generation backend.
// @contact.name    API Support
// @contact.url     https://github.com/killallgit/vibematch-api
// @license.name    MIT
// @license.url     https://opensource.org/licenses/MIT
// @host            localhost:8080
// @BasePath        /
// @schemes         http https
func main() {
	cmd.Execute()
}
