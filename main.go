package main

import (
	"os"

	"github.com/GoosieGav/PestHub/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
