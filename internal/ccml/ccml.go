package ccml

import (
	"bytes"
	"encoding/xml"
	"strconv"
)

// Response builds the call-control markup returned to the telephony provider.
// The provider interprets directives top to bottom: play or say audio, gather
// caller speech with a result callback, or hang up.
type Response struct {
	verbs []any
}

type sayVerb struct {
	XMLName  xml.Name `xml:"Say"`
	Voice    string   `xml:"voice,attr,omitempty"`
	Language string   `xml:"language,attr,omitempty"`
	Text     string   `xml:",chardata"`
}

type playVerb struct {
	XMLName xml.Name `xml:"Play"`
	URL     string   `xml:",chardata"`
}

type gatherVerb struct {
	XMLName xml.Name `xml:"Gather"`
	Action  string   `xml:"action,attr"`
	Method  string   `xml:"method,attr"`
	Timeout string   `xml:"timeout,attr"`
	Input   string   `xml:"input,attr"`
	Say     *sayVerb `xml:",omitempty"`
}

type redirectVerb struct {
	XMLName xml.Name `xml:"Redirect"`
	Method  string   `xml:"method,attr"`
	URL     string   `xml:",chardata"`
}

type pauseVerb struct {
	XMLName xml.Name `xml:"Pause"`
	Length  string   `xml:"length,attr"`
}

type hangupVerb struct {
	XMLName xml.Name `xml:"Hangup"`
}

func New() *Response { return &Response{} }

// Say speaks literal text through the provider's built-in synthesis.
func (r *Response) Say(text, voice, language string) *Response {
	r.verbs = append(r.verbs, sayVerb{Voice: voice, Language: language, Text: text})
	return r
}

// Play streams a previously synthesized audio file by URL.
func (r *Response) Play(url string) *Response {
	r.verbs = append(r.verbs, playVerb{URL: url})
	return r
}

// Gather collects caller speech and posts the result to action.
func (r *Response) Gather(action string, timeoutSeconds int) *Response {
	r.verbs = append(r.verbs, gatherVerb{
		Action:  action,
		Method:  "POST",
		Timeout: strconv.Itoa(timeoutSeconds),
		Input:   "speech",
	})
	return r
}

// GatherWithPrompt speaks a prompt inside the gather so the caller can barge in.
func (r *Response) GatherWithPrompt(prompt, voice, language, action string, timeoutSeconds int) *Response {
	r.verbs = append(r.verbs, gatherVerb{
		Action:  action,
		Method:  "POST",
		Timeout: strconv.Itoa(timeoutSeconds),
		Input:   "speech",
		Say:     &sayVerb{Voice: voice, Language: language, Text: prompt},
	})
	return r
}

// Redirect re-enters the call flow at url when no input was gathered.
func (r *Response) Redirect(url string) *Response {
	r.verbs = append(r.verbs, redirectVerb{Method: "POST", URL: url})
	return r
}

func (r *Response) Pause(seconds int) *Response {
	r.verbs = append(r.verbs, pauseVerb{Length: strconv.Itoa(seconds)})
	return r
}

func (r *Response) Hangup() *Response {
	r.verbs = append(r.verbs, hangupVerb{})
	return r
}

type document struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any
}

// Render serializes the response. It never fails for the verb set above; a
// marshalling error falls back to a bare hangup document so the provider is
// never handed malformed markup mid-call.
func (r *Response) Render() string {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	if err := enc.Encode(document{Verbs: r.verbs}); err != nil {
		return xml.Header + "<Response><Hangup></Hangup></Response>"
	}
	_ = enc.Flush()
	return buf.String()
}
