package commands

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/marcus/makemagic/internal/logging"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View logs",
	Long: `View magic logs.

Displays recent log entries from logging.path. Use --follow to stream new
entries as the server writes them, and --task to show one task's entries.`,
	RunE: runLogs,
}

func init() {
	logsCmd.Flags().IntP("tail", "n", 50, "Number of log lines to show")
	logsCmd.Flags().BoolP("follow", "f", false, "Follow log output")
	logsCmd.Flags().StringP("export", "e", "", "Export logs to file")
	logsCmd.Flags().String("task", "", "Only show entries for this task uuid")
	rootCmd.AddCommand(logsCmd)
}

// logEntry is a parsed JSON log line.
type logEntry struct {
	Level     string    `json:"level"`
	Time      time.Time `json:"time"`
	Message   string    `json:"message"`
	Component string    `json:"component,omitempty"`
	Task      string    `json:"task,omitempty"`
	Error     string    `json:"error,omitempty"`
}

type logPrinter struct {
	out  io.Writer
	task string
}

func runLogs(cmd *cobra.Command, _ []string) error {
	tail, _ := cmd.Flags().GetInt("tail")
	follow, _ := cmd.Flags().GetBool("follow")
	export, _ := cmd.Flags().GetString("export")
	taskFilter, _ := cmd.Flags().GetString("task")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logDir := cfg.Logging.Path
	p := logPrinter{out: cmd.OutOrStdout(), task: taskFilter}

	if export != "" {
		return exportLogs(p.out, logDir, export)
	}
	if follow {
		return followLogs(p, logDir, tail)
	}
	return showLogs(p, logDir, tail)
}

func showLogs(p logPrinter, logDir string, n int) error {
	files, err := logging.ListFiles(logDir)
	if err != nil {
		return fmt.Errorf("reading log dir: %w", err)
	}
	if len(files) == 0 {
		fmt.Fprintln(p.out, "No log files found.")
		return nil
	}

	for _, line := range readLastLines(files, n, p.keep) {
		p.print(line)
	}
	return nil
}

func followLogs(p logPrinter, logDir string, initialLines int) error {
	files, err := logging.ListFiles(logDir)
	if err != nil {
		return fmt.Errorf("reading log dir: %w", err)
	}
	if len(files) > 0 && initialLines > 0 {
		for _, line := range readLastLines(files, initialLines, p.keep) {
			p.print(line)
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fmt.Errorf("creating log dir: %w", err)
	}
	if err := watcher.Add(logDir); err != nil {
		return fmt.Errorf("watching log dir: %w", err)
	}

	currentFile := logging.CurrentFile(logDir)
	var file *os.File
	var reader *bufio.Reader
	if currentFile != "" {
		if file, err = os.Open(currentFile); err == nil {
			_, _ = file.Seek(0, io.SeekEnd)
			reader = bufio.NewReader(file)
		}
	}
	defer func() {
		if file != nil {
			file.Close()
		}
	}()

	fmt.Fprintln(p.out, "--- Following logs (Ctrl+C to exit) ---")

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			// Date rollover opens a new file.
			if newFile := logging.CurrentFile(logDir); newFile != currentFile {
				if file != nil {
					file.Close()
				}
				currentFile = newFile
				if file, err = os.Open(currentFile); err != nil {
					file, reader = nil, nil
					continue
				}
				reader = bufio.NewReader(file)
			}

			if event.Has(fsnotify.Write) && reader != nil {
				for {
					line, err := reader.ReadString('\n')
					if err != nil {
						break
					}
					line = strings.TrimSuffix(line, "\n")
					if p.keep(line) {
						p.print(line)
					}
				}
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(os.Stderr, "watcher error: %v\n", err)
		}
	}
}

func exportLogs(out io.Writer, logDir, outFile string) error {
	files, err := logging.ListFiles(logDir)
	if err != nil {
		return fmt.Errorf("reading log dir: %w", err)
	}
	if len(files) == 0 {
		return fmt.Errorf("no log files found")
	}

	f, err := os.Create(outFile)
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	total := 0
	// Oldest first.
	for i := len(files) - 1; i >= 0; i-- {
		for _, line := range readFileLines(files[i]) {
			w.WriteString(line + "\n")
			total++
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("writing %s: %w", outFile, err)
	}

	fmt.Fprintf(out, "Exported %d log lines to %s\n", total, outFile)
	return nil
}

// readLastLines returns the last n lines across files (newest first) that
// pass keep, in chronological order.
func readLastLines(files []string, n int, keep func(string) bool) []string {
	var lines []string
	for _, file := range files {
		if len(lines) >= n {
			break
		}
		var fileLines []string
		for _, line := range readFileLines(file) {
			if keep(line) {
				fileLines = append(fileLines, line)
			}
		}
		remaining := n - len(lines)
		if len(fileLines) > remaining {
			fileLines = fileLines[len(fileLines)-remaining:]
		}
		lines = append(fileLines, lines...)
	}
	return lines
}

func readFileLines(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines
}

func (p logPrinter) keep(line string) bool {
	if p.task == "" {
		return true
	}
	var entry logEntry
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		return strings.Contains(line, p.task)
	}
	return entry.Task == p.task
}

func (p logPrinter) print(line string) {
	var entry logEntry
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		fmt.Fprintln(p.out, line)
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", entry.Time.Format("15:04:05"), formatLogLevel(entry.Level))
	if entry.Component != "" {
		fmt.Fprintf(&b, " [%s]", entry.Component)
	}
	b.WriteString(" " + entry.Message)
	if entry.Task != "" && p.task == "" {
		fmt.Fprintf(&b, " task=%s", entry.Task)
	}
	if entry.Error != "" {
		fmt.Fprintf(&b, " error=%s", entry.Error)
	}
	fmt.Fprintln(p.out, b.String())
}

func formatLogLevel(level string) string {
	switch level {
	case "debug":
		return "DBG"
	case "info":
		return "INF"
	case "warn":
		return "WRN"
	case "error":
		return "ERR"
	case "":
		return "???"
	default:
		return strings.ToUpper(level[:min(3, len(level))])
	}
}
