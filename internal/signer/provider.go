package signer

// Provider 是默认的凭证提供者，对接 gateway 的 CredentialProvider。
type Provider struct{}

// Signer 只暴露签名能力。
type Signer interface {
	Sign(msg []byte) (string, error)
}

// DeriveKeyPair 每次握手都重新派生，不缓存私钥对象。
func (Provider) DeriveKeyPair(material string) (Signer, error) {
	kp, err := DeriveKeyPair(material)
	if err != nil {
		return nil, err
	}
	return kp, nil
}
