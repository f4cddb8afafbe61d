package ecmd

import (
	"github.com/distributed/ecatservo/ecfr"
	"github.com/pkg/errors"
)

const (
	CommandFramerMaxDatagramsLen = 1470
)

type outgoingFrame struct {
	frame *ecfr.Frame
	cmds  []*ExecutingCommand
}

// CommandFramer packs the datagrams of all commands created between two
// calls to Cycle into as few frames as possible and matches the returning
// frames to their commands.
type CommandFramer struct {
	currentIndex uint8

	frameOpen          bool
	currentFrame       *ecfr.Frame
	currentFrameLen    uint16
	currentFrameOffset uint16
	currentCmds        []*ExecutingCommand

	frameQueue []outgoingFrame

	inFrameQueue []*ecfr.Frame

	framer Framer
}

func NewCommandFramer(framer Framer) *CommandFramer {
	return &CommandFramer{framer: framer}
}

func (cf *CommandFramer) New(datalen int) (*ExecutingCommand, error) {
	var err error

	dbgl := datalen + ecfr.DatagramOverheadLength
	if dbgl > CommandFramerMaxDatagramsLen {
		return nil, errors.New("datalen exceeds maximum datagram length")
	}

	if cf.frameOpen {
		if dbgl > int(cf.currentFrameLen-cf.currentFrameOffset) {
			cf.finishFrame()
			err = cf.newFrame()
			if err != nil {
				return nil, err
			}
		}
	} else {
		err = cf.newFrame()
		if err != nil {
			return nil, err
		}
	}

	dg, err := cf.currentFrame.NewDatagram(datalen)
	if err != nil {
		return nil, err
	}

	cf.currentFrameOffset += uint16(dbgl)

	cmd := &ExecutingCommand{
		DatagramOut: dg,
	}
	cf.currentCmds = append(cf.currentCmds, cmd)
	return cmd, nil
}

func (cf *CommandFramer) finishFrame() {
	if len(cf.currentFrame.Datagrams) > 0 {
		for _, dg := range cf.currentFrame.Datagrams {
			dg.Index = cf.currentIndex
		}
		cf.frameQueue = append(cf.frameQueue, outgoingFrame{cf.currentFrame, cf.currentCmds})
	}

	cf.frameOpen = false
	cf.currentFrame = nil
	cf.currentFrameLen = 0
	cf.currentFrameOffset = 0xffff
	cf.currentCmds = nil
	cf.currentIndex++
}

func (cf *CommandFramer) newFrame() error {
	frame, err := cf.framer.New(CommandFramerMaxDatagramsLen)
	if err != nil {
		return err
	}

	cf.currentFrame = frame
	cf.currentCmds = nil
	cf.frameOpen = true
	cf.currentFrameLen = CommandFramerMaxDatagramsLen
	cf.currentFrameOffset = 0
	return nil
}

func (cf *CommandFramer) Cycle() error {
	if cf.currentFrame != nil && len(cf.currentFrame.Datagrams) > 0 {
		cf.finishFrame()
	}

	defer func() {
		cf.frameQueue = nil
		cf.inFrameQueue = nil
	}()

	var err error
	cf.inFrameQueue, err = cf.framer.Cycle()
	if err != nil {
		return err
	}

	oi := 0
	for _, infr := range cf.inFrameQueue {
		if oi == len(cf.frameQueue) {
			// no more outgoing frames to scan
			break
		}

		for i := oi; i < len(cf.frameQueue); i++ {
			// is this outgoing frame a match for the incoming frame?
			ofr := cf.frameQueue[i].frame
			if len(infr.Datagrams) == 0 || len(ofr.Datagrams) == 0 {
				continue
			}

			if len(infr.Datagrams) != len(ofr.Datagrams) {
				continue
			}

			if infr.Datagrams[0].Index != ofr.Datagrams[0].Index {
				continue
			}

			for j, ocmd := range cf.frameQueue[i].cmds {
				odgram := ocmd.DatagramOut
				indgram := infr.Datagrams[j]

				if odgram.Command != indgram.Command {
					continue
				}

				if odgram.DataLength() != indgram.DataLength() {
					continue
				}

				ocmd.DatagramIn = indgram
				ocmd.Arrived = true
				ocmd.Overlayed = true
				ocmd.Error = nil
			}

			// update search start index
			oi = i + 1
			break
		}
	}

	return nil
}

func (cf *CommandFramer) Close() error {
	return cf.framer.Close()
}

// Framer moves whole frames. Cycle sends every frame handed out by New since
// the last Cycle and returns the frames that came back.
type Framer interface {
	New(maxdatalen int) (*ecfr.Frame, error)
	Cycle() ([]*ecfr.Frame, error)
	Close() error
}
