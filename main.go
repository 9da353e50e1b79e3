package main

import (
	"log"

	"github.com/iGETsense/Devil-POOl-sub000/cmd"
)

func main() {
	if err := cmd.Start(); err != nil {
		log.Fatal(err)
	}
}
