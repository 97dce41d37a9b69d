package envelope

import "testing"

func TestDecodeTextMessage(t *testing.T) {
	payload := []byte(`<xml>
		<ToUserName><![CDATA[agent_007]]></ToUserName>
		<FromUserName><![CDATA[customer_42]]></FromUserName>
		<CreateTime>1409659589</CreateTime>
		<MsgType><![CDATA[text]]></MsgType>
		<Content><![CDATA[你好，有三室的房源吗？]]></Content>
		<MsgId>4561255354251345929</MsgId>
		<AgentID>1000002</AgentID>
	</xml>`)

	env, err := Decode(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Kind != KindText {
		t.Fatalf("kind = %s, want text", env.Kind)
	}
	if env.Body != "你好，有三室的房源吗？" {
		t.Fatalf("body = %q", env.Body)
	}
	if env.RecipientID != "agent_007" || env.SenderID != "customer_42" {
		t.Fatalf("recipient/sender = %q/%q", env.RecipientID, env.SenderID)
	}
	if env.MsgID != "4561255354251345929" {
		t.Fatalf("msg id = %q", env.MsgID)
	}
	if env.CreatedAt != 1409659589 {
		t.Fatalf("created_at = %d", env.CreatedAt)
	}
	if env.Media != nil || env.Location != nil || env.Event != nil {
		t.Fatal("text envelope must not carry kind-specific attributes")
	}
}

func TestDecodeImageMessage(t *testing.T) {
	payload := []byte(`<xml>
		<ToUserName>a</ToUserName>
		<FromUserName>c</FromUserName>
		<MsgType>image</MsgType>
		<PicUrl>http://example.com/p.jpg</PicUrl>
		<MediaId>media-1</MediaId>
	</xml>`)

	env, err := Decode(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Kind != KindImage {
		t.Fatalf("kind = %s, want image", env.Kind)
	}
	if env.Media == nil || env.Media.MediaID != "media-1" || env.Media.PicURL != "http://example.com/p.jpg" {
		t.Fatalf("media = %+v", env.Media)
	}
	if env.Body != "" {
		t.Fatalf("body = %q, want empty for non-text", env.Body)
	}
}

func TestDecodeLocationMessage(t *testing.T) {
	payload := []byte(`<xml>
		<MsgType>location</MsgType>
		<Location_X>23.134521</Location_X>
		<Location_Y>113.358803</Location_Y>
		<Scale>20</Scale>
		<Label><![CDATA[广州市]]></Label>
	</xml>`)

	env, err := Decode(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Location == nil || env.Location.X != "23.134521" || env.Location.Label != "广州市" {
		t.Fatalf("location = %+v", env.Location)
	}
}

func TestDecodeEventMessage(t *testing.T) {
	payload := []byte(`<xml>
		<MsgType>event</MsgType>
		<Event>subscribe</Event>
		<EventKey>qrscene_123</EventKey>
	</xml>`)

	env, err := Decode(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Kind != KindEvent {
		t.Fatalf("kind = %s, want event", env.Kind)
	}
	if env.Event == nil || env.Event.Event != "subscribe" {
		t.Fatalf("event = %+v", env.Event)
	}
}

func TestDecodeUnknownKindStillValid(t *testing.T) {
	payload := []byte(`<xml>
		<ToUserName>a</ToUserName>
		<FromUserName>c</FromUserName>
		<MsgType>hologram</MsgType>
		<MsgId>77</MsgId>
	</xml>`)

	env, err := Decode(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Kind != KindUnknown {
		t.Fatalf("kind = %s, want unknown", env.Kind)
	}
	if env.MsgID != "77" {
		t.Fatalf("msg id = %q, want common header populated", env.MsgID)
	}
	if env.Media != nil || env.Location != nil || env.Event != nil {
		t.Fatal("unknown envelope must not carry kind-specific attributes")
	}
}

func TestDecodeMalformedXML(t *testing.T) {
	if _, err := Decode([]byte("<xml><unclosed>")); err == nil {
		t.Fatal("expected parse error for malformed payload")
	}
}
