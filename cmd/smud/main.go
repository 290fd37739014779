package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/davecgh/go-spew/spew"
	sysctl "github.com/lorenzosaino/go-sysctl"
	"github.com/sbinet/npyio"
	"github.com/spf13/viper"
	"gonum.org/v1/gonum/mat"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/gosmu/gosmu"
	"github.com/gosmu/gosmu/internal/runlog"
	"github.com/gosmu/gosmu/usb"
)

var githash = "githash not computed"
var buildDate = "build date not computed"

// makeFileExist checks that dir/filename exists, and creates the directory
// and file if it doesn't.
func makeFileExist(dir, filename string) (string, error) {
	// Replace 1 instance of "$HOME" in the path with the actual home directory.
	if strings.Contains(dir, "$HOME") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = strings.Replace(dir, "$HOME", home, 1)
	}

	// Create directory <path>, if needed
	if _, err := os.Stat(dir); err != nil {
		if !os.IsNotExist(err) {
			return "", err
		}
		err2 := os.MkdirAll(dir, 0775)
		if err2 != nil {
			return "", err2
		}
	}

	// Create an empty file path/filename, if it doesn't exist.
	fullname := path.Join(dir, filename)
	_, err := os.Stat(fullname)
	if os.IsNotExist(err) {
		f, err2 := os.OpenFile(fullname, os.O_WRONLY|os.O_CREATE, 0664)
		if err2 != nil {
			return "", err2
		}
		f.Close()
	}
	return fullname, nil
}

// setupViper sets up the viper configuration manager: says where to find config
// files and the filename and suffix. Sets some defaults.
func setupViper() error {
	viper.SetDefault("Verbose", false)
	viper.SetDefault("SampleRate", gosmu.DefaultSampleRate)
	viper.SetDefault("Nchan", 2)
	viper.SetDefault("QueueSize", gosmu.DefaultQueueSize)
	viper.SetDefault("FramesPort", gosmu.Ports.Frames)

	HOME, err := os.UserHomeDir()
	if err != nil {
		fmt.Printf("Error finding User Home Dir: %s\n", err)
	}
	dotGosmu := filepath.Join(HOME, ".gosmu")
	const filename string = "config"
	const suffix string = ".yaml"
	if _, err := makeFileExist(dotGosmu, filename+suffix); err != nil {
		return err
	}

	viper.SetConfigName(filename)
	viper.AddConfigPath(filepath.FromSlash("/etc/gosmu"))
	viper.AddConfigPath(dotGosmu)
	viper.AddConfigPath(".")
	err = viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %s", err)
	}
	return nil
}

func startLogger(pfname string) *log.Logger {
	probFile, err := os.OpenFile(pfname, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		msg := fmt.Sprintf("Could not open log file '%s'", pfname)
		panic(msg)
	}
	probLogger := log.New(probFile, "", log.LstdFlags)
	probLogger.SetOutput(&lumberjack.Logger{
		Filename:   pfname,
		MaxSize:    10,   // megabytes after which new file is created
		MaxBackups: 4,    // number of backups
		MaxAge:     180,  // days
		Compress:   true, // whether to gzip the backups
	})
	return probLogger
}

// checkRmem warns when the kernel's receive buffer ceiling is too small for
// subscribers of the frame stream at high sample rates.
func checkRmem() {
	const wantBytes = 4 << 20
	v, err := sysctl.Get("net.core.rmem_max")
	if err != nil {
		return // not Linux, or sysctl unreadable; nothing to check
	}
	if bytes, err := strconv.Atoi(v); err == nil && bytes < wantBytes {
		gosmu.ProblemLogger.Printf("net.core.rmem_max is %d; frame subscribers may drop below %d", bytes, wantBytes)
	}
}

func main() {
	buildDate = strings.Replace(buildDate, ".", " ", -1) // workaround for Make problems
	gosmu.Build.Date = buildDate
	gosmu.Build.Githash = githash

	printVersion := flag.Bool("version", false, "print version and quit")
	useUSB := flag.Bool("usb", false, "drive the USB device instead of the loopback simulator")
	rate := flag.Int("rate", 0, "target sample rate in Sa/s (default from config file)")
	nchan := flag.Int("nchan", 0, "channel count (default from config file)")
	seconds := flag.Int("seconds", 10, "how long to stream")
	npyFile := flag.String("npy", "", "write captured frames to this .npy file")
	publish := flag.Bool("publish", false, "publish frames on the ZMQ frames port")
	flag.Parse()

	if *printVersion {
		fmt.Printf("This is smud version %s\n", gosmu.Build.Version)
		fmt.Printf("Git commit hash: %s\n", githash)
		fmt.Printf("Build time: %s\n", buildDate)
		fmt.Printf("Built on go version %s\n", runtime.Version())
		os.Exit(0)
	}

	if err := setupViper(); err != nil {
		log.Fatal(err)
	}
	if *rate == 0 {
		*rate = viper.GetInt("SampleRate")
	}
	if *nchan == 0 {
		*nchan = viper.GetInt("Nchan")
	}

	logname, err := makeFileExist("$HOME/.gosmu", "problems.log")
	if err != nil {
		log.Fatal(err)
	}
	gosmu.ProblemLogger = startLogger(logname)

	var transport gosmu.Transport
	if *useUSB {
		t, err := usb.Open(*nchan)
		if err != nil {
			log.Fatalf("could not open USB device: %s", err)
		}
		transport = t
	} else {
		transport = gosmu.NewSimTransport()
	}

	session, err := gosmu.NewSession(transport, *nchan, viper.GetInt("QueueSize"))
	if err != nil {
		log.Fatalf("could not create session: %s", err)
	}
	defer session.Close()

	actual, err := session.Configure(*rate)
	if err != nil {
		log.Fatalf("could not configure %d Sa/s: %s", *rate, err)
	}
	log.Printf("session running at %d Sa/s (requested %d)", actual, *rate)

	// Drive channel 0 with a full-scale sine; park the others at midscale.
	session.Channel(0).Output.SourceSine(0, 5, float64(actual)/1000, 0)
	for i := 1; i < session.Nchan(); i++ {
		session.Channel(i).Output.SourceConstant(2.5)
	}

	if viper.GetBool("Verbose") {
		log.Println(spew.Sdump(session))
	}

	abort := make(chan struct{})
	defer close(abort)

	activity := &runlog.ActivityMessage{
		ID:        runlog.NewID(),
		Hostname:  hostname(),
		Version:   gosmu.Build.Version,
		GoVersion: runtime.Version(),
		Start:     gosmu.StartTime,
	}
	db := runlog.Start(activity, abort)

	var pubChan chan []gosmu.Frame
	if *publish {
		checkRmem()
		pubChan = make(chan []gosmu.Frame, 16)
		go gosmu.PublishFrames(pubChan, abort, viper.GetInt("FramesPort"))
	}

	run := &runlog.RunMessage{
		ID:         runlog.NewID(),
		ActivityID: activity.ID,
		Mode:       "stream",
		SampleRate: actual,
		Nchan:      session.Nchan(),
		Start:      time.Now(),
	}
	db.RecordRun(run)

	if err := session.Start(0); err != nil {
		log.Fatalf("could not start streaming: %s", err)
	}

	var captured []gosmu.Frame
	deadline := time.Now().Add(time.Duration(*seconds) * time.Second)
	for time.Now().Before(deadline) {
		frames, err := session.Read(actual/10, 500*time.Millisecond)
		if err != nil {
			gosmu.ProblemLogger.Printf("read: %v", err)
			session.Flush()
		}
		if len(frames) == 0 {
			continue
		}
		run.FramesRead += uint64(len(frames))
		if pubChan != nil {
			select {
			case pubChan <- frames:
			default: // publisher is behind; skip this batch
			}
		}
		if *npyFile != "" {
			captured = append(captured, frames...)
		}
	}
	session.End()
	run.Ticks = run.FramesRead
	db.FinishRun(run)

	log.Printf("read %d frames in %d seconds", run.FramesRead, *seconds)
	if *npyFile != "" {
		if err := writeNpy(*npyFile, captured, session.Nchan()); err != nil {
			log.Fatalf("could not write %s: %s", *npyFile, err)
		}
		log.Printf("wrote %d frames to %s", len(captured), *npyFile)
	}
}

func hostname() string {
	if host, err := os.Hostname(); err == nil {
		return host
	}
	return "host not detected"
}

// writeNpy stores frames as an nframes x nchan float64 matrix in NumPy format.
func writeNpy(filename string, frames []gosmu.Frame, nchan int) error {
	if len(frames) == 0 {
		return fmt.Errorf("no frames were captured")
	}
	f, err := os.Create(filename)
	if err != nil {
		return err
	}

	m := mat.NewDense(len(frames), nchan, nil)
	for i, frame := range frames {
		for c := 0; c < nchan && c < len(frame); c++ {
			m.Set(i, c, float64(frame[c]))
		}
	}
	if err := npyio.Write(f, m); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
