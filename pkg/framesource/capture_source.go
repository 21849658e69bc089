package framesource

import (
	"fmt"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

// CaptureSource pumps frames from a camera device or a video file into a
// Mailbox. Delivery is keep-only-latest: the mailbox drops stale frames
// rather than queue them behind a slow worker.
type CaptureSource struct {
	capture *gocv.VideoCapture
	mailbox *Mailbox
	log     *logrus.Entry

	stop chan struct{}
	done chan struct{}
}

// OpenCapture opens a capture device by numeric ID or a video file by path.
func OpenCapture(input string, mailbox *Mailbox, log *logrus.Entry) (*CaptureSource, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	var capture *gocv.VideoCapture
	var err error
	if _, statErr := os.Stat(input); statErr == nil {
		capture, err = gocv.VideoCaptureFile(input)
	} else if id, convErr := strconv.Atoi(input); convErr == nil {
		capture, err = gocv.VideoCaptureDevice(id)
	} else {
		capture, err = gocv.VideoCaptureFile(input)
	}
	if err != nil {
		return nil, fmt.Errorf("open capture %q: %w", input, err)
	}

	return &CaptureSource{
		capture: capture,
		mailbox: mailbox,
		log:     log,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

// Run reads frames until the source ends or Stop is called, converting
// each to a grayscale+color Frame and depositing it in the mailbox.
func (s *CaptureSource) Run() {
	defer close(s.done)
	defer s.mailbox.Close()

	frame := gocv.NewMat()
	defer frame.Close()

	var seq int64
	for {
		select {
		case <-s.stop:
			return
		default:
		}

		if ok := s.capture.Read(&frame); !ok || frame.Empty() {
			s.log.WithField("frames", seq).Info("capture source drained")
			return
		}
		seq++

		gray := gocv.NewMat()
		gocv.CvtColor(frame, &gray, gocv.ColorBGRToGray)

		f := NewFrame(gray, seq).WithColor(frame.Clone())
		if err := s.mailbox.Put(f); err != nil {
			f.Close()
			return
		}
	}
}

// Stop halts the pump and waits for it to exit.
func (s *CaptureSource) Stop() {
	close(s.stop)
	<-s.done
}

// Close releases the underlying capture device.
func (s *CaptureSource) Close() error {
	return s.capture.Close()
}
