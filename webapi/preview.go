package webapi

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/h264reader"

	"screenlink/encode"
	"screenlink/server"
)

const pliThrottle = 2 * time.Second

// Preview answers browser SDP offers with a WebRTC connection carrying
// the active session's H.264 elementary stream. It piggybacks on the
// encoder's tee output, so attaching a viewer never disturbs the
// primary transport to the streaming client.
type Preview struct {
	sup *server.Supervisor
}

func NewPreview(sup *server.Supervisor) *Preview {
	return &Preview{sup: sup}
}

func (p *Preview) HandleSDP(c *gin.Context) {
	c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
	if c.Request.Method == http.MethodOptions {
		return
	}

	sess := p.sup.ActiveSession()
	if sess == nil {
		c.String(http.StatusServiceUnavailable, "no active session")
		return
	}
	enc := sess.Encoder()
	es := enc.ElementaryStream()
	if es == nil {
		c.String(http.StatusServiceUnavailable, "active session has no preview stream")
		return
	}

	body, _ := io.ReadAll(c.Request.Body)
	offer := webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  string(body),
	}

	m := &webrtc.MediaEngine{}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:     webrtc.MimeTypeH264,
			ClockRate:    90000,
			SDPFmtpLine:  "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
			RTCPFeedback: []webrtc.RTCPFeedback{{Type: "goog-remb"}, {Type: "ccm", Parameter: "fir"}, {Type: "nack"}, {Type: "nack", Parameter: "pli"}},
		},
		PayloadType: 102,
	}, webrtc.RTPCodecTypeVideo); err != nil {
		log.Println("preview: RegisterCodec H264 failed:", err)
		es.Close()
		c.String(http.StatusInternalServerError, err.Error())
		return
	}

	api := webrtc.NewAPI(webrtc.WithMediaEngine(m))
	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
	})
	if err != nil {
		log.Println("preview: creating PeerConnection:", err)
		es.Close()
		c.String(http.StatusInternalServerError, err.Error())
		return
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264},
		"video-track-id",
		"screenlink_preview_video",
	)
	if err != nil {
		log.Println("preview: creating track:", err)
		es.Close()
		pc.Close()
		c.String(http.StatusInternalServerError, err.Error())
		return
	}
	sender, err := pc.AddTrack(track)
	if err != nil {
		log.Println("preview: adding track:", err)
		es.Close()
		pc.Close()
		c.String(http.StatusInternalServerError, err.Error())
		return
	}

	go p.readRTCP(sender, enc)
	go p.feed(es, track, sess.Config().FPS)

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Printf("preview: connection state: %s", s)
		if s == webrtc.PeerConnectionStateFailed || s == webrtc.PeerConnectionStateClosed {
			es.Close()
			pc.Close()
		}
	})

	if err := pc.SetRemoteDescription(offer); err != nil {
		log.Println("preview: setting remote description:", err)
		es.Close()
		pc.Close()
		c.String(http.StatusInternalServerError, err.Error())
		return
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		log.Println("preview: creating answer:", err)
		es.Close()
		pc.Close()
		c.String(http.StatusInternalServerError, err.Error())
		return
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		log.Println("preview: setting local description:", err)
		es.Close()
		pc.Close()
		c.String(http.StatusInternalServerError, err.Error())
		return
	}
	<-gatherComplete

	c.Writer.Header().Set("Content-Type", "application/sdp")
	fmt.Fprint(c.Writer, pc.LocalDescription().SDP)

	// Viewer joins mid-stream; give it an IDR once the connection is up.
	go func() {
		time.Sleep(500 * time.Millisecond)
		enc.RequestKeyFrame()
	}()
}

// feed splits the Annex-B elementary stream into NAL units and pushes
// them onto the track. Runs until the stream or the connection closes.
func (p *Preview) feed(es io.ReadCloser, track *webrtc.TrackLocalStaticSample, fps int) {
	defer es.Close()
	if fps <= 0 {
		fps = 30
	}
	frameDur := time.Second / time.Duration(fps)

	h264, err := h264reader.NewReader(es)
	if err != nil {
		log.Printf("preview: reading stream header: %v", err)
		return
	}
	for {
		nal, err := h264.NextNAL()
		if err != nil {
			if err != io.EOF {
				log.Printf("preview: reading nal: %v", err)
			}
			return
		}
		sample := pionmedia.Sample{Data: nal.Data, Duration: frameDur}
		if err := track.WriteSample(sample); err != nil {
			log.Printf("preview: writing sample: %v", err)
			return
		}
	}
}

// readRTCP watches the sender's feedback for picture-loss indications
// and forwards a throttled keyframe request to the encoder.
func (p *Preview) readRTCP(sender *webrtc.RTPSender, enc *encode.StreamEncoder) {
	buf := make([]byte, 1500)
	lastPLI := time.Time{}
	for {
		n, _, err := sender.Read(buf)
		if err != nil {
			return
		}
		packets, err := rtcp.Unmarshal(buf[:n])
		if err != nil {
			continue
		}
		for _, pkt := range packets {
			if _, ok := pkt.(*rtcp.PictureLossIndication); !ok {
				continue
			}
			now := time.Now()
			if now.Sub(lastPLI) < pliThrottle {
				continue
			}
			lastPLI = now
			enc.RequestKeyFrame()
		}
	}
}
