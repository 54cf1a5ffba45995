package main

import (
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// audioPlayer represents an audio player command and its arguments
type audioPlayer struct {
	command string
	args    []string
}

// getAudioPlayers returns the players to try for signed 16-bit mono PCM.
func getAudioPlayers(rate int) []audioPlayer {
	r := strconv.Itoa(rate)
	return []audioPlayer{
		// SoX
		{"play", []string{"-t", "raw", "-r", r, "-e", "signed", "-b", "16", "-c", "1"}},
		{"ffplay", []string{"-f", "s16le", "-ar", r, "-ac", "1", "-nodisp", "-autoexit"}},
		// ALSA
		{"aplay", []string{"-f", "S16_LE", "-r", r, "-c", "1"}},
	}
}

// playAudioFile plays a raw PCM file with the first player that works.
func playAudioFile(filename string, rate int, logger *zap.Logger) error {
	for _, player := range getAudioPlayers(rate) {
		if _, err := exec.LookPath(player.command); err != nil {
			continue
		}
		args := append(player.args, filename)
		logger.Info("Attempting to play audio",
			zap.String("player", player.command),
			zap.Strings("args", args))

		if err := exec.Command(player.command, args...).Run(); err != nil {
			logger.Debug("Player failed", zap.String("player", player.command), zap.Error(err))
			continue
		}
		return nil
	}
	return errors.New("no suitable audio player found")
}

func printPlaybackInstructions(filename string, rate int) {
	fmt.Printf("To play the reply:\n")
	fmt.Printf("  play -t raw -r %d -e signed -b 16 -c 1 %s\n", rate, filename)
	fmt.Printf("  ffplay -f s16le -ar %d -ac 1 -nodisp -autoexit %s\n", rate, filename)
	if runtime.GOOS == "linux" {
		fmt.Printf("  aplay -f S16_LE -r %d -c 1 %s\n", rate, filename)
	}
	fmt.Printf("  ffmpeg -f s16le -ar %d -ac 1 -i %s %s.wav\n", rate, filename, strings.TrimSuffix(filename, ".pcm"))
}
