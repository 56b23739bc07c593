package telephony

import "github.com/twilio/twilio-go/twiml"

// AnswerTwiML opens the bidirectional media stream on call pickup.
func AnswerTwiML(streamURL string) (string, error) {
	connect := &twiml.VoiceConnect{
		InnerElements: []twiml.Element{
			&twiml.VoiceStream{Url: streamURL},
		},
	}
	return twiml.Voice([]twiml.Element{connect})
}

// PlayTwiML plays one clip and then reattaches the media stream so the call
// keeps listening after the clip ends.
func PlayTwiML(audioURL, streamURL string) (string, error) {
	play := &twiml.VoicePlay{Url: audioURL}
	connect := &twiml.VoiceConnect{
		InnerElements: []twiml.Element{
			&twiml.VoiceStream{Url: streamURL},
		},
	}
	return twiml.Voice([]twiml.Element{play, connect})
}

// ResumeTwiML cuts whatever is playing and reattaches the media stream; used
// to stop a clip on barge-in.
func ResumeTwiML(streamURL string) (string, error) {
	return AnswerTwiML(streamURL)
}
