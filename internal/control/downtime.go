package control

import (
	"log"
	"time"

	"github.com/sweeney/valve-sleeper/internal/clock"
)

// cutBackMargin is how early (ms) the controller may wake before the next
// event and still handle it on time.
const cutBackMargin = 500

// Downtime is the sleep planned by Shutdown.
type Downtime struct {
	// Downtime is the nominal sleep, stored as LastDowntime.
	Downtime time.Duration

	// Sleep is the downtime scaled for the drift of the sleep oscillator.
	Sleep time.Duration

	// CutBack reports that the downtime was shortened to meet next.
	CutBack bool
}

// Shutdown records the shutdown time and plans the sleep until the next
// cycle. next is the epoch ms of the next pending event, 0 if none.
func (c *Controller) Shutdown(next uint64) Downtime {
	st := c.st
	now := c.now()
	st.LastShutdownTime = now

	down := uint64(st.Downtime)
	if st.ValveOpen && down > MaxValveOpenDowntime {
		down = MaxValveOpenDowntime
	}

	var cut bool
	if wake := now + down + CommandTime; next > 0 && wake > next+cutBackMargin {
		excess := wake - (next + cutBackMargin)
		if down > MinDowntime+excess {
			down -= excess
		} else {
			down = MinDowntime
		}
		cut = true
	}
	st.LastDowntime = uint32(down)

	d := Downtime{
		Downtime: time.Duration(down) * time.Millisecond,
		Sleep:    time.Duration(down*uint64(st.DowntimeScale)/10000) * time.Millisecond,
		CutBack:  cut,
	}
	log.Printf("control: sleeping %d ms (scaled %d ms), next cycle at %s",
		down, d.Sleep.Milliseconds(), clock.FormatMillis(now+down))
	return d
}
