package main

import (
	"os"

	"fluxserve/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
