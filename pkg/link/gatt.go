package link

import "github.com/google/uuid"

// Wallet GATT profile
var (
	WalletServiceUUID  = uuid.MustParse("00000000-6769-5373-6b72-6f7770706144")
	PublicKeyUUID      = uuid.MustParse("01000000-6769-5373-6b72-6f7770706144") // read
	SignatureWriteUUID = uuid.MustParse("02000000-6769-5373-6b72-6f7770706144") // write, request frames
	SignatureReadUUID  = uuid.MustParse("03000000-6769-5373-6b72-6f7770706144") // notify, device replies

	// ClientConfigUUID is the standard client characteristic configuration descriptor
	ClientConfigUUID = uuid.MustParse("00002902-0000-1000-8000-00805f9b34fb")
)
