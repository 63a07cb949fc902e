package main

import (
	"flag"
	"fmt"
	"os"

	"webradio/voice"

	"github.com/Duckduckgot/gtts/voices"
)

// Pre-renders station announcements so a show can start offline.
//
//	go run ./tools -lang fr -dir assets/audio "Vous écoutez Radio Été"
func main() {
	lang := flag.String("lang", voices.English, "announcement language")
	dir := flag.String("dir", "assets/audio", "output directory")
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: generate [-lang code] [-dir path] text...")
		os.Exit(2)
	}

	for _, text := range flag.Args() {
		path, err := voice.Synthesize(text, *lang, *dir)
		handleError(text, err)
		fmt.Println(path)
	}
}

func handleError(text string, err error) {
	if err != nil {
		panic(fmt.Sprintf("Error generating audio for %q: %s", text, err.Error()))
	}
}
