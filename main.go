package main

import (
	"log"

	"github.com/gosma-dev/gosma/flag"
)

func main() {
	if err := flag.Parse(); err != nil {
		log.Fatal(err)
	}
}
